package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"mail-messenger/internal/config"
)

var (
	// ErrLockBusy means the per-row advisory lock could not be acquired;
	// another worker is acting on the row right now.
	ErrLockBusy = errors.New("advisory lock not acquired")

	// ErrClaimLost means the claiming update matched zero rows: the row
	// changed owner between candidate selection and the update.
	ErrClaimLost = errors.New("row claimed by another worker")
)

const returningColumns = `"ID", "DestinationAddress", "SourceAddress", "CC_Address", "BCC_Address", "Subject", "Body", "Attachment", attempts, processed_by`

// Store runs all statements against the mail schema. The mode constraint
// and the numeric constants are interpolated once at construction, from a
// closed set; every piece of row data travels as a bound parameter.
type Store struct {
	db        *sqlx.DB
	logger    *zap.Logger
	identity  string
	dryRun    bool
	timeout   time.Duration
	selectSQL string
	depthSQL  string
}

func NewStore(database *sqlx.DB, logger *zap.Logger, identity string, mode config.Mode, dryRun bool) *Store {
	constraint := "TRUE" // all rows
	switch mode {
	case config.ModeReport:
		constraint = `"Attachment" IS NOT NULL`
	case config.ModeNotification:
		constraint = `"Attachment" IS NULL`
	}

	maxAgeMinutes := int(config.MaxAge.Minutes())

	selectSQL := fmt.Sprintf(`
SELECT "ID", processed_by
FROM mail."MailQueue"
WHERE pg_try_advisory_xact_lock("ID")
  AND "deliveryMethod" IS NULL
  AND (
      processed_by IS NULL -- new message
      OR processed_by = $1 -- previous failure, same worker
      OR (processed_by <> $1 AND created_at < NOW() - INTERVAL '%d minutes') -- orphaned
  )
  AND %s
  AND attempts <= %d
ORDER BY "ID" ASC
LIMIT %d
FOR UPDATE SKIP LOCKED`, maxAgeMinutes, constraint, config.MaxAttempts, config.FetchLimit())

	depthSQL := fmt.Sprintf(`
SELECT COUNT(*)
FROM mail."MailQueue"
WHERE "deliveryMethod" IS NULL
  AND %s
  AND attempts <= %d`, constraint, config.MaxAttempts)

	return &Store{
		db:        database,
		logger:    logger,
		identity:  identity,
		dryRun:    dryRun,
		timeout:   config.QueryTimeout,
		selectSQL: selectSQL,
		depthSQL:  depthSQL,
	}
}

// SelectCandidates reads up to FETCH_LIMIT claimable rows in FIFO order.
// The row locks and advisory locks taken here end with the transaction;
// they only thin out contention. ClaimOne is the arbiter.
func (s *Store) SelectCandidates(ctx context.Context) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin candidate transaction: %w", err)
	}
	defer tx.Rollback()

	s.logger.Debug("selecting candidates", zap.String("sql", s.selectSQL), zap.String("worker", s.identity))

	var candidates []Candidate
	if err := tx.SelectContext(ctx, &candidates, s.selectSQL, s.identity); err != nil {
		return nil, fmt.Errorf("failed to select candidates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit candidate transaction: %w", err)
	}
	return candidates, nil
}

// ClaimOne attempts to take ownership of a candidate row. It re-acquires
// the per-ID advisory lock in its own transaction, then performs a
// compare-and-swap on processed_by while incrementing attempts. The commit
// happens here, before any provider is called, so the ownership change and
// the attempt increment survive a crash during dispatch. Returns
// ErrLockBusy or ErrClaimLost when the row must be skipped.
func (s *Store) ClaimOne(ctx context.Context, cand Candidate) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	var locked bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", cand.ID).Scan(&locked); err != nil {
		return nil, fmt.Errorf("failed to acquire advisory lock for row %d: %w", cand.ID, err)
	}
	if !locked {
		s.logger.Debug("could not acquire lock, skipping", zap.Int64("id", cand.ID))
		return nil, ErrLockBusy
	}

	// The WHERE clause repeats the owner read at selection time; zero
	// affected rows means the row was stolen between the two phases.
	var (
		updateSQL string
		args      []interface{}
	)
	if cand.ProcessedBy == nil {
		updateSQL = fmt.Sprintf(`
UPDATE mail."MailQueue"
SET processed_by = $1, attempts = attempts + 1
WHERE "ID" = $2 AND processed_by IS NULL
RETURNING %s`, returningColumns)
		args = []interface{}{s.identity, cand.ID}
	} else {
		updateSQL = fmt.Sprintf(`
UPDATE mail."MailQueue"
SET processed_by = $1, attempts = attempts + 1
WHERE "ID" = $2 AND processed_by = $3
RETURNING %s`, returningColumns)
		args = []interface{}{s.identity, cand.ID, *cand.ProcessedBy}
	}

	var msg Message
	if err := tx.QueryRowxContext(ctx, updateSQL, args...).StructScan(&msg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("row claimed by another process, skipping", zap.Int64("id", cand.ID))
			return nil, ErrClaimLost
		}
		return nil, fmt.Errorf("failed to claim row %d: %w", cand.ID, err)
	}

	if s.dryRun {
		if err := tx.Rollback(); err != nil {
			return nil, fmt.Errorf("failed to roll back dry-run claim for row %d: %w", cand.ID, err)
		}
		return &msg, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim for row %d: %w", cand.ID, err)
	}
	return &msg, nil
}

// Archive moves a finalized row out of the queue: delete plus insert into
// the success or failure table, in one transaction. Attachment bytes are
// dropped; DateSent is the database clock at move time.
func (s *Store) Archive(ctx context.Context, msg *Message, success bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	table := `mail."FailedMail"`
	if success {
		table = `mail."MailArchive"`
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mail."MailQueue" WHERE "ID" = $1`, msg.ID); err != nil {
		return fmt.Errorf("failed to delete row %d from queue: %w", msg.ID, err)
	}

	insertSQL := fmt.Sprintf(`
INSERT INTO %s
("DestinationAddress","SourceAddress","CC_Address","BCC_Address","Subject","Body",processed_by,"DateSent")
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`, table)

	if _, err := tx.ExecContext(ctx, insertSQL,
		msg.DestinationAddress, msg.SourceAddress, msg.CCAddress, msg.BCCAddress,
		msg.Subject, msg.Body, msg.ProcessedBy); err != nil {
		return fmt.Errorf("failed to archive row %d: %w", msg.ID, err)
	}

	if s.dryRun {
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("failed to roll back dry-run archive for row %d: %w", msg.ID, err)
		}
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive for row %d: %w", msg.ID, err)
	}

	s.logger.Debug("archived row", zap.Int64("id", msg.ID), zap.Bool("success", success))
	return nil
}

// QueueDepth counts the rows this worker's mode could still see. Feeds the
// queue depth gauge only.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var depth int
	if err := s.db.GetContext(ctx, &depth, s.depthSQL); err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return depth, nil
}
