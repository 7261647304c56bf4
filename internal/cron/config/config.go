package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Job record retention, every 10 minutes
	CronSchedulePruneJobRecords string `env:"CRON_SCHEDULE_PRUNE_JOB_RECORDS" envDefault:"0 */10 * * * *"`
	// Requeue replies that never reached the provider, every 5 minutes
	CronScheduleRequeueUndelivered string `env:"CRON_SCHEDULE_REQUEUE_UNDELIVERED" envDefault:"30 */5 * * * *"`
}
