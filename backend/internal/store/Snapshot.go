package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// 文档快照，content 为文档树 JSON
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, docID string, rev uint64, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_snapshots (document_id, revision, content)
		VALUES (?, ?, ?)`,
		docID,
		rev,
		content,
	)
	if err != nil {
		// 同一版本重复保存视为成功
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}

// LoadLatestSnapshot 取版本号最大的快照，没有时 found=false
func (s *SnapshotStore) LoadLatestSnapshot(ctx context.Context, docID string) (string, uint64, bool, error) {
	var (
		content string
		rev     uint64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content, revision FROM document_snapshots
		WHERE document_id = ? ORDER BY revision DESC LIMIT 1`,
		docID,
	).Scan(&content, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return content, rev, true, nil
}
