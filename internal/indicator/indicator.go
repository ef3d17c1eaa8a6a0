// Package indicator models the board status lamps.
package indicator

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type Lamp uint8

const (
	// Active is lit while an upload connection is open.
	Active Lamp = iota
	// Conversion toggles on every completed output cycle.
	Conversion
	// ProtocolError marks buffer overflow and transport failures.
	ProtocolError
	// DataError marks playback start or backend failures.
	DataError
	lampCount
)

func (l Lamp) String() string {
	switch l {
	case Active:
		return "active"
	case Conversion:
		return "conversion"
	case ProtocolError:
		return "protocol_error"
	case DataError:
		return "data_error"
	default:
		return fmt.Sprintf("lamp(%d)", uint8(l))
	}
}

// Snapshot is the lit state of every lamp.
type Snapshot struct {
	Active        bool `json:"active"`
	Conversion    bool `json:"conversion"`
	ProtocolError bool `json:"protocol_error"`
	DataError     bool `json:"data_error"`
}

// Panel holds lamp state. Writers are the server loop; readers may be anywhere.
type Panel struct {
	mu    sync.RWMutex
	lamps [lampCount]bool
}

func NewPanel() *Panel {
	return &Panel{}
}

func (p *Panel) Set(l Lamp, on bool) {
	if l >= lampCount {
		return
	}
	p.mu.Lock()
	changed := p.lamps[l] != on
	p.lamps[l] = on
	p.mu.Unlock()
	if changed {
		log.Trace().Str("lamp", l.String()).Bool("on", on).Msg("indicator")
	}
}

func (p *Panel) Toggle(l Lamp) {
	if l >= lampCount {
		return
	}
	p.mu.Lock()
	p.lamps[l] = !p.lamps[l]
	p.mu.Unlock()
}

func (p *Panel) Get(l Lamp) bool {
	if l >= lampCount {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lamps[l]
}

// Accepted clears every lamp and lights Active for a new connection.
func (p *Panel) Accepted() {
	p.mu.Lock()
	p.lamps = [lampCount]bool{Active: true}
	p.mu.Unlock()
}

func (p *Panel) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Active:        p.lamps[Active],
		Conversion:    p.lamps[Conversion],
		ProtocolError: p.lamps[ProtocolError],
		DataError:     p.lamps[DataError],
	}
}
