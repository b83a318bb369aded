package ps

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/nickyhof/StepDB/core"
)

const queriesDir = ".stepdb/queries"

func savedQueryPath(name string) string {
	return path.Join(queriesDir, name+".json")
}

// SaveQuery stores a named query definition. Saving an existing name
// replaces the SQL but keeps the original creation time.
func (p *Persistence) SaveQuery(query core.SavedQuery, identity core.Identity) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}
	if query.Name == "" || strings.Contains(query.Name, "/") {
		return Transaction{}, fmt.Errorf("invalid query name %q", query.Name)
	}
	if strings.TrimSpace(query.SQL) == "" {
		return Transaction{}, fmt.Errorf("query %q has no SQL", query.Name)
	}

	p.Lock()
	defer p.Unlock()

	now := time.Now()
	query.CreatedAt = now
	query.UpdatedAt = now
	query.By = identity
	if existing, err := p.readSavedQuery(query.Name); err == nil {
		query.CreatedAt = existing.CreatedAt
	}

	data, err := json.MarshalIndent(query, "", "  ")
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to encode query: %w", err)
	}

	return p.writeFileDirect(savedQueryPath(query.Name), data, identity,
		fmt.Sprintf("Saving query %s", query.Name))
}

// GetQuery returns the stored definition for name.
func (p *Persistence) GetQuery(name string) (*core.SavedQuery, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.RLock()
	defer p.RUnlock()

	return p.readSavedQuery(name)
}

func (p *Persistence) readSavedQuery(name string) (*core.SavedQuery, error) {
	data, err := p.ReadFileDirect(savedQueryPath(name))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, ErrQueryNotFound)
	}
	var query core.SavedQuery
	if err := json.Unmarshal(data, &query); err != nil {
		return nil, fmt.Errorf("failed to decode query: %w", err)
	}
	return &query, nil
}

// ListQueries returns every stored query definition in name order.
func (p *Persistence) ListQueries() ([]core.SavedQuery, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.RLock()
	defer p.RUnlock()

	entries, err := p.ListEntriesDirect(queriesDir)
	if err != nil {
		return nil, err
	}

	var queries []core.SavedQuery
	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		query, err := p.readSavedQuery(strings.TrimSuffix(entry.Name, ".json"))
		if err != nil {
			return nil, err
		}
		queries = append(queries, *query)
	}

	return queries, nil
}

// DeleteQuery removes a stored query definition.
func (p *Persistence) DeleteQuery(name string, identity core.Identity) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	p.Lock()
	defer p.Unlock()

	if _, err := p.ReadFileDirect(savedQueryPath(name)); err != nil {
		return Transaction{}, fmt.Errorf("query %q: %w", name, ErrQueryNotFound)
	}

	return p.deletePathsDirect([]string{savedQueryPath(name)}, identity,
		fmt.Sprintf("Deleting query %s", name))
}
