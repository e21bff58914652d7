package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maraichr/sheetflow/internal/store/postgres"
	"github.com/maraichr/sheetflow/pkg/models"
)

type Store struct {
	*postgres.Queries
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Queries: postgres.New(pool),
		pool:    pool,
	}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) WithTx(ctx context.Context, fn func(*postgres.Queries) error) error {
	return s.withTx(ctx, func(tx pgx.Tx, q *postgres.Queries) error {
		return fn(q)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx, *postgres.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx, s.Queries.WithTx(tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ApplyChunk commits one chunk in a single transaction: valid rows go to the
// destination table, failed rows to processing_errors, then the chunk is
// marked completed and the upload counters are incremented. The chunk row is
// locked first, so a concurrent or repeated delivery sees a terminal chunk
// and applies nothing.
//
// Each insert runs inside a savepoint. Data and constraint violations
// (SQLSTATE classes 22 and 23) become row errors; anything else aborts the
// whole chunk.
func (s *Store) ApplyChunk(ctx context.Context, batch models.ChunkBatch) (models.ChunkTally, error) {
	var tally models.ChunkTally
	key := batch.Key

	err := s.withTx(ctx, func(tx pgx.Tx, q *postgres.Queries) error {
		status, err := q.LockChunk(ctx, key, batch.RowCount)
		if err != nil {
			return fmt.Errorf("lock chunk %s: %w", key, err)
		}
		if status.Terminal() {
			return nil
		}

		var processed, errored int
		for _, r := range batch.Rows {
			msg := r.Err
			if msg == "" && r.Record != nil {
				rowErr, err := insertRow(ctx, tx, key, r)
				if err != nil {
					return err
				}
				msg = rowErr
			}
			if msg == "" {
				processed++
				continue
			}
			errored++
			if err := q.InsertProcessingError(ctx, postgres.InsertProcessingErrorParams{
				UploadID:   key.UploadID,
				ChunkIndex: key.ChunkIndex,
				RowNumber:  r.RowNumber,
				Message:    msg,
				RawRow:     r.Raw,
			}); err != nil {
				return fmt.Errorf("record row %d error: %w", r.RowNumber, err)
			}
		}

		if err := q.CompleteChunk(ctx, key, errored); err != nil {
			return fmt.Errorf("complete chunk %s: %w", key, err)
		}
		up, ue, err := q.IncrementUploadCounters(ctx, key.UploadID, processed, errored)
		if err != nil {
			return fmt.Errorf("increment counters: %w", err)
		}

		tally = models.ChunkTally{
			Applied:             true,
			ProcessedRows:       processed,
			ErrorCount:          errored,
			UploadProcessedRows: up,
			UploadErrorCount:    ue,
		}
		return nil
	})
	if err != nil {
		return models.ChunkTally{}, err
	}
	return tally, nil
}

// insertRow writes one record inside a savepoint. A non-empty message means
// the row was rejected and the savepoint rolled back.
func insertRow(ctx context.Context, tx pgx.Tx, key models.ChunkKey, r models.RowResult) (string, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("savepoint: %w", err)
	}
	err = postgres.New(sp).InsertStore(ctx, postgres.InsertStoreParams{
		UploadID:   key.UploadID,
		ChunkIndex: key.ChunkIndex,
		RowNumber:  r.RowNumber,
		Record:     *r.Record,
	})
	if err == nil {
		if err := sp.Commit(ctx); err != nil {
			return "", fmt.Errorf("release savepoint: %w", err)
		}
		return "", nil
	}
	if rbErr := sp.Rollback(ctx); rbErr != nil {
		return "", fmt.Errorf("rollback savepoint: %w", rbErr)
	}
	if IsRowError(err) {
		return err.Error(), nil
	}
	return "", fmt.Errorf("insert row %d: %w", r.RowNumber, err)
}

// IsRowError reports whether err is attributable to the row's data rather
// than to the database being unavailable.
func IsRowError(err error) bool {
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}
