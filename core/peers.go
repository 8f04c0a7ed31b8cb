package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PeerSet is a live mapping from peer URL to last-seen wall-clock time
// (spec.md §3, §4.G), shared by the Node Service's register handler and the
// Mining Loop's synchronizer. All accesses are safe under concurrent
// mutation, grounded on core/peer_management.go's sync.RWMutex-guarded map
// in the teacher repo (the libp2p-specific dial/pubsub machinery there has
// no home here: this chain's peers are bare HTTP URLs, not libp2p
// multiaddrs).
type PeerSet struct {
	mu sync.RWMutex
	// StaleAfter is the duration after which a peer not re-registered is
	// considered dead. Zero disables pruning, matching the original
	// prototype's disabled timeout (spec.md §9 Open Questions).
	StaleAfter time.Duration
	seen       map[string]time.Time
	log        *logrus.Logger
}

func NewPeerSet(log *logrus.Logger) *PeerSet {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PeerSet{seen: make(map[string]time.Time), log: log}
}

// Upsert records url as seen at now.
func (p *PeerSet) Upsert(url string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[url] = now
	p.log.WithFields(logrus.Fields{"peer": url}).Debug("peer upserted")
}

// Drop removes url from the live set, e.g. after a connection failure.
func (p *PeerSet) Drop(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[url]; ok {
		delete(p.seen, url)
		p.log.WithFields(logrus.Fields{"peer": url}).Debug("peer dropped")
	}
}

// Has reports whether url is currently known.
func (p *PeerSet) Has(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.seen[url]
	return ok
}

// Keys returns every known peer URL, pruning stale entries first when
// StaleAfter is non-zero.
func (p *PeerSet) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StaleAfter > 0 {
		cutoff := time.Now().Add(-p.StaleAfter)
		for url, last := range p.seen {
			if last.Before(cutoff) {
				delete(p.seen, url)
			}
		}
	}
	out := make([]string, 0, len(p.seen))
	for url := range p.seen {
		out = append(out, url)
	}
	return out
}
