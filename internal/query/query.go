// Package query probes a running game server over the UDP full-stat query
// protocol and classifies the result as an activity sample.
package query

import (
	"time"

	"github.com/dreamscached/minequery/v2"
)

// DefaultTimeout bounds a single status query.
const DefaultTimeout = 5 * time.Second

// Sample is one observation of the managed server. A failed probe is a
// valid sample with Reachable=false and Err set; Sample never panics or
// returns an error to the caller. Retry/backoff policy belongs to the
// consumer.
type Sample struct {
	At          time.Time `json:"at"`
	Reachable   bool      `json:"reachable"`
	PlayerCount int       `json:"player_count"`
	MaxPlayers  int       `json:"max_players"`
	Players     []string  `json:"players,omitempty"`
	Err         string    `json:"error,omitempty"`
}

// Prober produces activity samples for one target.
type Prober interface {
	Sample() Sample
}

// Pinger is the default Prober implementation backed by the query protocol.
type Pinger struct {
	host    string
	port    int
	timeout time.Duration
	pinger  *minequery.Pinger
}

// New creates a Pinger for host:port. A non-positive timeout falls back to
// DefaultTimeout.
func New(host string, port int, timeout time.Duration) *Pinger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pinger{
		host:    host,
		port:    port,
		timeout: timeout,
		pinger:  minequery.NewPinger(minequery.WithTimeout(timeout)),
	}
}

// Sample performs one status query against the target.
func (p *Pinger) Sample() Sample {
	s := Sample{At: time.Now()}
	res, err := p.pinger.QueryFull(p.host, p.port)
	if err != nil {
		s.Err = err.Error()
		return s
	}
	s.Reachable = true
	s.PlayerCount = res.OnlinePlayers
	s.MaxPlayers = res.MaxPlayers
	s.Players = res.SamplePlayers
	return s
}
