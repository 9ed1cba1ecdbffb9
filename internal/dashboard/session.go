package dashboard

import (
	"context"
	"sync"
	"time"

	"finary/internal/core"
	"finary/internal/events"
	"finary/internal/identity"
	"finary/internal/log"
	"finary/internal/metrics"
)

// reloadTimeout bounds reloads triggered by events, which carry no request context.
const reloadTimeout = 15 * time.Second

// View is an immutable copy of a session's state, ready to render.
type View struct {
	UserName     string             `json:"user_name"`
	Transactions []core.Transaction `json:"transactions"`
	Budgets      []core.Budget      `json:"budgets"`
	Snapshot     core.Snapshot      `json:"snapshot"`
	Loading      bool               `json:"loading"`
	Loaded       bool               `json:"loaded"`
	RefreshToken uint64             `json:"refresh_token"`
	Generation   uint64             `json:"generation"`
	LastLoadedAt time.Time          `json:"last_loaded_at,omitzero"`
}

// Session holds one signed-in user's dashboard state. Loads may overlap; the
// result of the most recently issued load wins and older results are dropped.
type Session struct {
	ident       identity.Identity
	loader      *Loader
	coordinator *Coordinator

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	transactions []core.Transaction
	budgets      []core.Budget
	snapshot     core.Snapshot
	loading      bool
	loaded       bool
	issued       uint64 // last generation handed out
	applied      uint64 // generation currently displayed
	lastLoadedAt time.Time
}

// NewSession builds a session for ident. A signed-in session subscribes to bus
// and reloads whenever its refresh token changes.
func NewSession(ident identity.Identity, loader *Loader, bus events.Bus) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ident:        ident,
		loader:       loader,
		ctx:          ctx,
		cancel:       cancel,
		transactions: []core.Transaction{},
		budgets:      []core.Budget{},
		snapshot:     core.ComputeMetrics(nil, nil),
	}
	if ident.Valid() && bus != nil {
		s.coordinator = NewCoordinator(bus, ident.UserID, s.onRefresh)
	}
	return s
}

func (s *Session) onRefresh(token uint64) {
	ctx, cancel := context.WithTimeout(s.ctx, reloadTimeout)
	defer cancel()

	logger := log.FromContext(ctx).WithComponent(log.ComponentDashboard)
	logger.DebugContext(ctx, "Refresh token changed, reloading",
		log.FieldUserID, s.ident.UserID,
		log.FieldRefreshToken, token)

	_ = s.Reload(ctx)
}

// Reload fetches fresh data and recomputes the metrics. Without a signed-in
// user it fetches nothing and leaves the current state untouched.
func (s *Session) Reload(ctx context.Context) error {
	if !s.ident.Valid() {
		return core.ErrUnauthenticated
	}

	s.mu.Lock()
	s.issued++
	gen := s.issued
	s.loading = true
	s.mu.Unlock()

	data, err := s.loader.Load(ctx, s.ident)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen == s.issued {
		s.loading = false
	}
	if err != nil {
		return err
	}
	if gen != s.issued {
		metrics.DashboardLoads.WithLabelValues("stale").Inc()
		log.FromContext(ctx).WithComponent(log.ComponentDashboard).DebugContext(ctx, "Discarding superseded load",
			log.FieldUserID, s.ident.UserID,
			log.FieldGeneration, gen)
		return nil
	}

	s.transactions = data.Transactions
	s.budgets = data.Budgets
	s.snapshot = core.ComputeMetrics(data.Transactions, data.Budgets)
	s.applied = gen
	s.loaded = true
	s.lastLoadedAt = time.Now().UTC()

	if data.Degraded {
		metrics.DashboardLoads.WithLabelValues("degraded").Inc()
	} else {
		metrics.DashboardLoads.WithLabelValues("ok").Inc()
	}
	return nil
}

// EnsureLoaded runs a first load if none has completed yet.
func (s *Session) EnsureLoaded(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded {
		return nil
	}
	return s.Reload(ctx)
}

// View returns a copy of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		UserName:     s.ident.DisplayName(),
		Transactions: append([]core.Transaction(nil), s.transactions...),
		Budgets:      append([]core.Budget(nil), s.budgets...),
		Snapshot:     s.snapshot,
		Loading:      s.loading,
		Loaded:       s.loaded,
		Generation:   s.applied,
		LastLoadedAt: s.lastLoadedAt,
	}
	if s.coordinator != nil {
		v.RefreshToken = s.coordinator.Token()
	}
	return v
}

// Transactions returns the currently displayed transactions.
func (s *Session) Transactions() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.transactions...)
}

// Identity returns the identity the session was created for.
func (s *Session) Identity() identity.Identity {
	return s.ident
}

// Close unsubscribes from the event bus and cancels event-driven reloads.
func (s *Session) Close() {
	if s.coordinator != nil {
		s.coordinator.Close()
	}
	s.cancel()
}
