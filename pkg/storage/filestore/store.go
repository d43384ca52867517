package filestore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"marketfeed/internal/market"

	"github.com/shopspring/decimal"
)

var header = []string{"symbol", "interval", "open_time", "close_time", "open", "high", "low", "close", "volume"}

// Store keeps one CSV file per month key under Dir: "{dir}/{key}.csv".
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kline dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the file a key is stored in.
func (s *Store) Path(key string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(key)
	return filepath.Join(s.dir, name+".csv")
}

// Save appends klines to the key's file, writing the header when the file is new.
func (s *Store) Save(ctx context.Context, key string, klines []market.Kline) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(klines) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("write header %s: %w", path, err)
		}
	}
	for _, k := range klines {
		if err := w.Write(encode(k)); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

// Load reads every kline stored under key, in file order. A missing file yields nil, nil.
func (s *Store) Load(ctx context.Context, key string) ([]market.Kline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)

	var out []market.Kline
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if line == 1 && row[0] == header[0] {
			continue
		}
		k, err := decode(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		out = append(out, k)
	}
	return out, nil
}

func encode(k market.Kline) []string {
	return []string{
		k.Symbol,
		k.Interval,
		strconv.FormatInt(k.OpenTime, 10),
		strconv.FormatInt(k.CloseTime, 10),
		k.Open.String(),
		k.High.String(),
		k.Low.String(),
		k.Close.String(),
		k.Volume.String(),
	}
}

func decode(row []string) (market.Kline, error) {
	openTime, err := strconv.ParseInt(row[2], 10, 64)
	if err != nil {
		return market.Kline{}, fmt.Errorf("open_time: %w", err)
	}
	closeTime, err := strconv.ParseInt(row[3], 10, 64)
	if err != nil {
		return market.Kline{}, fmt.Errorf("close_time: %w", err)
	}

	var prices [5]decimal.Decimal
	for i := range prices {
		d, err := decimal.NewFromString(row[4+i])
		if err != nil {
			return market.Kline{}, fmt.Errorf("%s: %w", header[4+i], err)
		}
		prices[i] = d
	}

	return market.Kline{
		Symbol:    row[0],
		Interval:  row[1],
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
	}, nil
}
