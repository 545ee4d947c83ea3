package clients

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"dining-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrEmbeddingNotConfigured = errors.New("embedding service URL is not configured")
	ErrEmbeddingAPIFailure    = errors.New("embedding API request failed")
)

const maxEmbeddingAttempts = 3

// EmbeddingStore is the persistence the embedding client reads items from and writes vectors to
type EmbeddingStore interface {
	GetItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.MenuItem, error)
	ListItemsMissingEmbedding(ctx context.Context, limit int) ([]uuid.UUID, error)
	// SetEmbedding stores the vector only while the item still has none and
	// has not been updated since loadedAt. It reports whether it was stored.
	SetEmbedding(ctx context.Context, id uuid.UUID, vector []byte, model string, loadedAt time.Time) (bool, error)
}

// EmbeddingConfig configures the embedding client
type EmbeddingConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	BatchSize   int
	Concurrency int
	RatePerSec  float64
}

// EmbeddingClient generates vectors for menu items through an
// OpenAI-compatible /embeddings endpoint and stores them on the items.
type EmbeddingClient struct {
	cfg         EmbeddingConfig
	store       EmbeddingStore
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *logrus.Entry
	backoff     time.Duration
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// NewEmbeddingClient creates a new embedding client
func NewEmbeddingClient(cfg EmbeddingConfig, store EmbeddingStore, logger *logrus.Logger) *EmbeddingClient {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &EmbeddingClient{
		cfg:   cfg,
		store: store,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Concurrency),
		logger:      logger.WithField("component", "embedding_client"),
		backoff:     500 * time.Millisecond,
	}
}

// EmbedItems embeds the given items and returns how many vectors were stored.
// On error the count still reflects the batches stored before the failure.
func (c *EmbeddingClient) EmbedItems(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if c.cfg.BaseURL == "" {
		return 0, ErrEmbeddingNotConfigured
	}

	items, err := c.store.GetItemsByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to load items: %w", err)
	}

	var stored atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for start := 0; start < len(items); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(items))
		batch := items[start:end]
		g.Go(func() error {
			n, err := c.embedBatch(gCtx, batch)
			stored.Add(int64(n))
			return err
		})
	}

	err = g.Wait()
	return int(stored.Load()), err
}

// Backfill embeds up to limit items that have no stored vector
func (c *EmbeddingClient) Backfill(ctx context.Context, limit int) (int, error) {
	ids, err := c.store.ListItemsMissingEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list items without embeddings: %w", err)
	}
	c.logger.WithField("pending", len(ids)).Info("Starting embedding backfill")
	return c.EmbedItems(ctx, ids)
}

func (c *EmbeddingClient) embedBatch(ctx context.Context, items []models.MenuItem) (int, error) {
	inputs := make([]string, len(items))
	for i := range items {
		inputs[i] = EmbeddingText(&items[i])
	}

	resp, err := c.requestWithRetry(ctx, inputs)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) != len(items) {
		return 0, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingAPIFailure, len(items), len(resp.Data))
	}

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}

	stored := 0
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(items) {
			return stored, fmt.Errorf("%w: vector index %d out of range", ErrEmbeddingAPIFailure, d.Index)
		}
		item := items[d.Index]
		ok, err := c.store.SetEmbedding(ctx, item.ID, EncodeVector(d.Embedding), model, item.UpdatedAt)
		if err != nil {
			return stored, fmt.Errorf("failed to store embedding for %s: %w", item.ID, err)
		}
		if !ok {
			c.logger.WithField("item_id", item.ID).Debug("Item changed or embedded since it was loaded, vector discarded")
			continue
		}
		stored++
	}
	return stored, nil
}

func (c *EmbeddingClient) requestWithRetry(ctx context.Context, inputs []string) (*embeddingResponse, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxEmbeddingAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		resp, retryable, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"inputs":  len(inputs),
		}).Warn("Embedding request failed")

		if attempt < maxEmbeddingAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
	}
	return nil, lastErr
}

// doRequest reports whether a failure is worth retrying
func (c *EmbeddingClient) doRequest(ctx context.Context, body []byte) (*embeddingResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("%w: %v", ErrEmbeddingAPIFailure, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("%w: status %d: %s", ErrEmbeddingAPIFailure, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}
	return &parsed, false, nil
}

// EmbeddingText builds the text embedded for an item from the fields whose
// change invalidates a stored vector: name, calories and protein.
// e.g. "Chicken Bowl. Calories: 450. Protein: 30g."
func EmbeddingText(item *models.MenuItem) string {
	var sb strings.Builder
	sb.WriteString(item.Name)
	sb.WriteString(".")
	if item.Calories != nil {
		sb.WriteString(" Calories: ")
		sb.WriteString(strconv.FormatFloat(*item.Calories, 'f', -1, 64))
		sb.WriteString(".")
	}
	if item.ProteinG != nil {
		sb.WriteString(" Protein: ")
		sb.WriteString(strconv.FormatFloat(*item.ProteinG, 'f', -1, 64))
		sb.WriteString("g.")
	}
	return sb.String()
}

// EncodeVector packs a vector as little-endian float32
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
