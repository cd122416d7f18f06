package snapshot

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"beanpos/backend/internal/domain"
)

// State is the on-disk mirror of the register: the catalog, committed
// history and the open tabs. It exists so a restart can resume where the
// cashier left off; the authoritative state lives in the store and the cart
// engine.
type State struct {
	SavedAt      time.Time              `json:"saved_at"`
	Products     []domain.Product       `json:"products"`
	Orders       []domain.Order         `json:"orders"`
	StockLogs    []domain.StockLogEntry `json:"stock_logs"`
	Sales        []domain.Sale          `json:"sales"`
	ActiveSaleID int64                  `json:"active_sale_id"`
	NextSaleID   int64                  `json:"next_sale_id"`
	Settings     domain.Settings        `json:"settings"`
}

// Writer persists states to a single file, atomically via temp file and
// rename. Concurrent saves serialize; last writer wins.
type Writer struct {
	mu   sync.Mutex
	path string
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Save(state State) error {
	state.SavedAt = time.Now().UTC()

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), w.path)
}

// Load reads a previously saved state. A missing file is not an error; it
// returns (nil, nil) so the caller can start fresh.
func Load(path string) (*State, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
