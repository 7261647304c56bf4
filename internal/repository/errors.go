package repository

import (
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrDuplicateTicket  = errors.New("ticket already exists for message id")
	ErrDuplicateMessage = errors.New("message already exists")
	ErrInvalidInput     = errors.New("invalid input parameters")
)

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key value")
}
