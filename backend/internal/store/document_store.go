package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
)

var ErrDocumentNotFound = errors.New("document not found")

type DocumentStore struct{ db *sql.DB }

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) GetDocumentID(ctx context.Context, title string) (string, error) {
	var docID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE title = ?`,
		title,
	).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrDocumentNotFound
	}
	return docID, err
}

// CreateDocument 返回自增 id
func (s *DocumentStore) CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (owner_id, title) VALUES (?, ?)`,
		ownerID,
		title,
	)
	if err != nil {
		return "", err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *DocumentStore) DocumentExists(ctx context.Context, docID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE id = ? LIMIT 1`,
		docID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
