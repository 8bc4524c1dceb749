package modelstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"plant-backend/internal/ml"
)

const defaultLeaseTTL = 10 * time.Minute

// AcquireRetrainLease takes the single retrain lease row for owner. Every
// process opening the same file competes for that row, so only one of them
// trains at a time. The lease is renewed every ttl/3 until release is called;
// an owner that dies stops renewing and its lease can be taken over once it
// expires. Returns ml.ErrRetrainInProgress while another owner holds it.
func (s *SQLiteStore) AcquireRetrainLease(ctx context.Context, owner string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO retrain_lease (id, owner, expires_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE retrain_lease.expires_at <= ?`,
		owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to take retrain lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to take retrain lease: %w", err)
	}
	if n == 0 {
		return nil, ml.ErrRetrainInProgress
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if err := s.renewLease(renewCtx, owner, ttl); err != nil && renewCtx.Err() == nil {
					log.Printf("ModelStore: %v", err)
				}
			}
		}
	}()

	release := func() {
		stopRenew()
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.db.ExecContext(ctx, `DELETE FROM retrain_lease WHERE id = 1 AND owner = ?`, owner); err != nil {
			log.Printf("ModelStore: Error releasing retrain lease: %v", err)
		}
	}
	return release, nil
}

func (s *SQLiteStore) renewLease(ctx context.Context, owner string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `UPDATE retrain_lease SET expires_at = ? WHERE id = 1 AND owner = ?`,
		time.Now().Add(ttl).UnixMilli(), owner)
	if err != nil {
		return fmt.Errorf("failed to renew retrain lease: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("retrain lease of %s was taken over", owner)
	}
	return nil
}

// LeaseHolder returns the owner of an unexpired retrain lease, or "" when the
// lease is free
func (s *SQLiteStore) LeaseHolder(ctx context.Context) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner FROM retrain_lease WHERE id = 1 AND expires_at > ?`,
		time.Now().UnixMilli()).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read retrain lease: %w", err)
	}
	return owner, nil
}
