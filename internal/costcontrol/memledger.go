package costcontrol

import (
	"sync"

	"github.com/hoppy/ingest/internal/model"
)

// MemLedger is an in-process Ledger for tests and for a standalone
// instance that doesn't need cross-restart durability.
type MemLedger struct {
	mu         sync.Mutex
	budgets    map[string]model.Budget
	operations []model.Operation
}

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{budgets: make(map[string]model.Budget)}
}

func (m *MemLedger) GetOrCreateBudget(monthYear string, defaults model.Budget) (model.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.budgets[monthYear]; ok {
		return b, nil
	}
	m.budgets[monthYear] = defaults
	return defaults, nil
}

func (m *MemLedger) SaveBudget(b model.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[b.MonthYear] = b
	return nil
}

func (m *MemLedger) AppendOperation(op model.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, op)
	return nil
}

// Operations returns a snapshot of all logged operations, for tests.
func (m *MemLedger) Operations() []model.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Operation, len(m.operations))
	copy(out, m.operations)
	return out
}
