package marketdata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// fileSnapshot is the on-disk JSONL shape of one aligned snapshot.
type fileSnapshot struct {
	Timestamp    time.Time          `json:"timestamp"`
	Prices       map[string]float64 `json:"prices"`
	Rates        map[string]float64 `json:"rates"`
	FundingRates map[string]float64 `json:"funding_rates"`
	Indices      map[string]float64 `json:"indices"`
}

// LoadSeries reads a JSONL file of market snapshots, one per line, and
// returns them sorted by timestamp. Blank lines are skipped.
func LoadSeries(path string) ([]domain.MarketSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: open %s: %w", path, err)
	}
	defer f.Close()

	var series []domain.MarketSnapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fs fileSnapshot
		if err := json.Unmarshal(raw, &fs); err != nil {
			return nil, fmt.Errorf("marketdata: %s line %d: %w", path, line, err)
		}
		if fs.Timestamp.IsZero() {
			return nil, fmt.Errorf("marketdata: %s line %d: missing timestamp", path, line)
		}
		series = append(series, domain.MarketSnapshot{
			Timestamp:    fs.Timestamp,
			Prices:       fs.Prices,
			Rates:        fs.Rates,
			FundingRates: fs.FundingRates,
			Indices:      fs.Indices,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("marketdata: read %s: %w", path, err)
	}

	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
	return series, nil
}
