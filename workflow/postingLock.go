package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireTicketPostingLock serializes workflow posting per ticket across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the posting transaction.
func AcquireTicketPostingLock(tx *gorm.DB, ticketId int) error {
	lockName := fmt.Sprintf("ticket-posting:%d", ticketId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for ticket_id=%d", ticketId)
	}
	return nil
}

func ReleaseTicketPostingLock(tx *gorm.DB, ticketId int) {
	lockName := fmt.Sprintf("ticket-posting:%d", ticketId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
