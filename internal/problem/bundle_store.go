package problem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/storage"
	appErr "arenaoj/pkg/errors"
)

const (
	defaultBundleTTL      = 5 * time.Minute
	defaultFetchLockTTL   = time.Minute
	defaultFetchLockWait  = 10 * time.Second
	defaultFetchLockPoll  = 100 * time.Millisecond
	bundleLockKeyPrefix   = "arena:problem:lock:"
	defaultBundlePrefix   = "problems"
	maxDecompressedBytes  = 64 << 20
)

// bundle is the on-storage layout: one zstd-compressed JSON object per
// problem holding the judging view and all stored test cases.
type bundle struct {
	Problem   Problem    `json:"problem"`
	TestCases []TestCase `json:"test_cases"`
}

// BundleStoreConfig holds bundle store settings.
type BundleStoreConfig struct {
	Storage   storage.ObjectStorage
	Lock      cache.LockOps
	Bucket    string
	KeyPrefix string

	// TTL bounds how long a fetched bundle is served from memory before
	// re-validating against storage.
	TTL time.Duration

	// LockWait bounds how long a fetcher waits for a concurrent download.
	LockWait time.Duration
}

// BundleStore implements Store over object storage. Each problem is a
// zstd-compressed JSON bundle verified by a SHA-256 sidecar object, cached
// in memory with a TTL; a shared lock keeps concurrent fetchers from
// stampeding storage for the same problem.
type BundleStore struct {
	storage   storage.ObjectStorage
	lock      cache.LockOps
	bucket    string
	keyPrefix string
	ttl       time.Duration
	lockWait  time.Duration

	mu      sync.Mutex
	entries map[int64]*bundleEntry
}

type bundleEntry struct {
	bundle    *bundle
	hash      string
	expiresAt time.Time
}

// NewBundleStore creates a bundle store.
func NewBundleStore(cfg BundleStoreConfig) (*BundleStore, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultBundlePrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultBundleTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultFetchLockWait
	}
	return &BundleStore{
		storage:   cfg.Storage,
		lock:      cfg.Lock,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		lockWait:  cfg.LockWait,
		entries:   make(map[int64]*bundleEntry),
	}, nil
}

// GetProblem returns the judging view of one problem.
func (s *BundleStore) GetProblem(ctx context.Context, problemID int64) (*Problem, error) {
	b, err := s.getBundle(ctx, problemID)
	if err != nil {
		return nil, err
	}
	p := b.Problem
	return &p, nil
}

// GetTestCases returns the stored cases for a problem in judge order.
func (s *BundleStore) GetTestCases(ctx context.Context, problemID int64) ([]TestCase, error) {
	b, err := s.getBundle(ctx, problemID)
	if err != nil {
		return nil, err
	}
	cases := make([]TestCase, len(b.TestCases))
	copy(cases, b.TestCases)
	return cases, nil
}

func (s *BundleStore) bundleKey(problemID int64) string {
	return fmt.Sprintf("%s/%d/bundle.json.zst", s.keyPrefix, problemID)
}

func (s *BundleStore) hashKey(problemID int64) string {
	return fmt.Sprintf("%s/%d/bundle.sha256", s.keyPrefix, problemID)
}

func (s *BundleStore) getBundle(ctx context.Context, problemID int64) (*bundle, error) {
	if problemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}

	expectedHash, err := s.readHash(ctx, problemID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	entry, ok := s.entries[problemID]
	if ok && entry.hash == expectedHash && time.Now().Before(entry.expiresAt) {
		b := entry.bundle
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	b, err := s.fetchBundle(ctx, problemID, expectedHash)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.entries[problemID] = &bundleEntry{
		bundle:    b,
		hash:      expectedHash,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return b, nil
}

func (s *BundleStore) readHash(ctx context.Context, problemID int64) (string, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, s.hashKey(problemID))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ProblemNotFound, "read bundle hash failed for problem %d", problemID)
	}
	defer reader.Close()
	raw, err := io.ReadAll(io.LimitReader(reader, 128))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.TestDataUnavailable, "read bundle hash failed")
	}
	hash := strings.TrimSpace(string(raw))
	if hash == "" {
		return "", appErr.New(appErr.TestDataCorrupted).WithMessage("bundle hash object is empty")
	}
	return hash, nil
}

func (s *BundleStore) fetchBundle(ctx context.Context, problemID int64, expectedHash string) (*bundle, error) {
	release, err := s.acquireFetchLock(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}

	// a concurrent fetcher may have filled the cache while we waited
	s.mu.Lock()
	if entry, ok := s.entries[problemID]; ok && entry.hash == expectedHash && time.Now().Before(entry.expiresAt) {
		b := entry.bundle
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	// refuse oversized bundles before pulling a byte
	stat, err := s.storage.StatObject(ctx, s.bucket, s.bundleKey(problemID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestDataUnavailable, "stat bundle failed for problem %d", problemID)
	}
	if stat.SizeBytes > maxDecompressedBytes {
		return nil, appErr.New(appErr.TestDataCorrupted).WithMessagef("bundle for problem %d exceeds size limit", problemID)
	}

	reader, err := s.storage.GetObject(ctx, s.bucket, s.bundleKey(problemID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestDataUnavailable, "download bundle failed for problem %d", problemID)
	}
	defer reader.Close()

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestDataUnavailable, "read bundle failed")
	}
	sum := sha256.Sum256(compressed)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), expectedHash) {
		return nil, appErr.New(appErr.TestDataCorrupted).WithMessagef("bundle hash mismatch for problem %d", problemID)
	}

	zstdReader, err := zstd.NewReader(nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestDataUnavailable, "create zstd reader failed")
	}
	defer zstdReader.Close()
	decompressed, err := zstdReader.DecodeAll(compressed, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestDataCorrupted, "decompress bundle failed")
	}
	if len(decompressed) > maxDecompressedBytes {
		return nil, appErr.New(appErr.TestDataCorrupted).WithMessage("bundle exceeds size limit")
	}

	var b bundle
	if err := json.Unmarshal(decompressed, &b); err != nil {
		return nil, appErr.Wrapf(err, appErr.TestDataCorrupted, "decode bundle failed")
	}
	if b.Problem.ID == 0 {
		b.Problem.ID = problemID
	}
	return &b, nil
}

// acquireFetchLock takes the shared fetch lock when a lock client is
// configured. Losing the race waits for the winner and retries under the
// lock; without a lock client fetches proceed unguarded.
func (s *BundleStore) acquireFetchLock(ctx context.Context, problemID int64) (func(), error) {
	if s.lock == nil {
		return nil, nil
	}
	lockKey := fmt.Sprintf("%s%d", bundleLockKeyPrefix, problemID)
	deadline := time.Now().Add(s.lockWait)
	for {
		locked, err := s.lock.TryLock(ctx, lockKey, defaultFetchLockTTL)
		if err != nil {
			// a broken lock store must not block judging
			return nil, nil
		}
		if locked {
			return func() { _ = s.lock.Unlock(context.Background(), lockKey) }, nil
		}
		if time.Now().After(deadline) {
			return nil, appErr.New(appErr.Timeout).WithMessage("wait for bundle fetch lock timeout")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(defaultFetchLockPoll):
		}
	}
}

// EncodeBundle serializes and compresses a bundle, returning the object
// payload and its SHA-256 hex digest. The authoring service uses the same
// layout when publishing problems; tests use it to seed storage.
func EncodeBundle(p Problem, cases []TestCase) ([]byte, string, error) {
	raw, err := json.Marshal(bundle{Problem: p, TestCases: cases})
	if err != nil {
		return nil, "", fmt.Errorf("encode bundle failed: %w", err)
	}
	writer, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, "", fmt.Errorf("create zstd writer failed: %w", err)
	}
	compressed := writer.EncodeAll(raw, nil)
	_ = writer.Close()
	sum := sha256.Sum256(compressed)
	return compressed, hex.EncodeToString(sum[:]), nil
}
