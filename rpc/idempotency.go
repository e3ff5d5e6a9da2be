package rpc

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/sqlite"
	"lukechampine.com/blake3"

	"charityledger/crypto"
)

const idempotencyHeader = "Idempotency-Key"

var (
	// ErrIdempotencyMismatch is returned when a key is reused with a different request.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")
	errIdempotencyInFlight = errors.New("request with this idempotency key is in progress")
	errIdempotencyKeyLong  = errors.New("idempotency key too long")
)

const maxIdempotencyKeyLen = 128

// StoredResponse is a cached reply for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyStore persists replies so a retried request is answered without
// running twice.
type IdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// OpenIdempotencyStore opens (or creates) the sqlite database at path.
func OpenIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	db.SetMaxOpenConns(1)
	const schema = `CREATE TABLE IF NOT EXISTS idempotency_keys (
            caller TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at INTEGER NOT NULL,
            PRIMARY KEY(caller, idempotency_key)
        );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply idempotency schema: %w", err)
	}
	return &IdempotencyStore{db: db, ttl: ttl, now: time.Now, inflight: make(map[string]struct{})}, nil
}

// Close releases the database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the stored reply for (caller, key), nil when absent or
// expired, or ErrIdempotencyMismatch when the request differs.
func (s *IdempotencyStore) Lookup(ctx context.Context, caller, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash, created_at FROM idempotency_keys WHERE caller = ? AND idempotency_key = ?`
	var (
		status     int
		body       []byte
		storedHash string
		createdAt  int64
	)
	err := s.db.QueryRowContext(ctx, query, caller, key).Scan(&status, &body, &storedHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.ttl > 0 && s.now().Sub(time.Unix(createdAt, 0)) > s.ttl {
		return nil, nil
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

// Save records the reply for (caller, key).
func (s *IdempotencyStore) Save(ctx context.Context, caller, key, requestHash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(caller, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, caller, key, requestHash, status, body, s.now().Unix())
	return err
}

// Prune deletes replies older than the configured TTL.
func (s *IdempotencyStore) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *IdempotencyStore) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *IdempotencyStore) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// Middleware replays stored replies for requests carrying an Idempotency-Key
// header. It must run after authentication.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, r, http.StatusBadRequest, errIdempotencyKeyLong)
			return
		}
		caller := "anonymous"
		if addr, ok := callerFrom(r.Context()); ok {
			caller = crypto.FormatAddress(addr)
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, errInvalidBody)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		hash := requestHash(r.Method, r.URL.Path, body)

		slot := caller + "|" + key
		if !s.acquire(slot) {
			writeError(w, r, http.StatusConflict, errIdempotencyInFlight)
			return
		}
		defer s.release(slot)

		stored, err := s.Lookup(r.Context(), caller, key, hash)
		switch {
		case errors.Is(err, ErrIdempotencyMismatch):
			writeError(w, r, http.StatusUnprocessableEntity, err)
			return
		case err != nil:
			writeError(w, r, http.StatusInternalServerError, err)
			return
		case stored != nil:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if recorder.status >= http.StatusInternalServerError || recorder.status == http.StatusTooManyRequests {
			return
		}
		if err := s.Save(r.Context(), caller, key, hash, recorder.status, recorder.buf.Bytes()); err != nil {
			loggerFrom(r.Context()).Warn("store idempotent reply", "error", err)
		}
	})
}

func requestHash(method, path string, body []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// responseRecorder captures the reply while passing it through.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
