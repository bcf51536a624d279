// Package traffic implements the traffic accountant: a periodic
// sampler that reads per-peer WireGuard counters and a SQLite-backed
// store of the resulting deltas, queryable by the API surface.
package traffic

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/overlaygate/gatewayd/internal/logging"
)

// Retention is how long counter_samples rows are kept before pruning.
const Retention = 24 * time.Hour

// Sample is one row of the counter_samples table.
type Sample struct {
	NetworkPubkey string
	PeerPubkey    string
	Time          time.Time
	RxRaw         uint64
	RxDelta       uint64
	TxRaw         uint64
	TxDelta       uint64
}

// Point is one (time, rx_delta, tx_delta) reading returned by Query,
// grouped by (network, peer).
type Point struct {
	Time    time.Time
	RxDelta uint64
	TxDelta uint64
}

// Series is every point recorded for one (network, peer) pair.
type Series struct {
	NetworkPubkey string
	PeerPubkey    string
	Points        []Point
}

// Store owns the SQLite database counter samples are appended to.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending migrations before returning.
func Open(path string, log *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open traffic db: %w", err)
	}
	if err := runMigrations(db, log); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends one sample and opportunistically prunes rows older
// than Retention (spec §4.4).
func (s *Store) Insert(sample Sample) error {
	_, err := s.db.Exec(`
		INSERT INTO counter_samples (network_pubkey, peer_pubkey, time, rx_raw, rx_delta, tx_raw, tx_delta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		sample.NetworkPubkey, sample.PeerPubkey, sample.Time.Unix(),
		sample.RxRaw, sample.RxDelta, sample.TxRaw, sample.TxDelta,
	)
	if err != nil {
		return fmt.Errorf("insert counter sample: %w", err)
	}

	if pruned, err := s.Prune(time.Now().Add(-Retention)); err != nil {
		s.log.Warn("prune counter samples", "error", err)
	} else if pruned > 0 {
		s.log.Debug("pruned counter samples", "count", pruned)
	}
	return nil
}

// Prune removes samples older than before and returns how many rows
// were removed.
func (s *Store) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM counter_samples WHERE time < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune counter samples: %w", err)
	}
	return result.RowsAffected()
}

// Query returns every sample recorded after since, grouped by
// (network, peer) with points in ascending time order (spec §4.4).
func (s *Store) Query(since time.Time) ([]Series, error) {
	rows, err := s.db.Query(`
		SELECT network_pubkey, peer_pubkey, time, rx_delta, tx_delta
		FROM counter_samples
		WHERE time > ?
		ORDER BY network_pubkey, peer_pubkey, time ASC
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query counter samples: %w", err)
	}
	defer rows.Close()

	type key struct{ network, peer string }
	order := make([]key, 0)
	grouped := make(map[key]*Series)

	for rows.Next() {
		var network, peer string
		var ts int64
		var rxDelta, txDelta uint64
		if err := rows.Scan(&network, &peer, &ts, &rxDelta, &txDelta); err != nil {
			return nil, fmt.Errorf("scan counter sample: %w", err)
		}
		k := key{network, peer}
		series, ok := grouped[k]
		if !ok {
			series = &Series{NetworkPubkey: network, PeerPubkey: peer}
			grouped[k] = series
			order = append(order, k)
		}
		series.Points = append(series.Points, Point{
			Time:    time.Unix(ts, 0),
			RxDelta: rxDelta,
			TxDelta: txDelta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].network != order[j].network {
			return order[i].network < order[j].network
		}
		return order[i].peer < order[j].peer
	})

	out := make([]Series, 0, len(order))
	for _, k := range order {
		out = append(out, *grouped[k])
	}
	return out, nil
}
