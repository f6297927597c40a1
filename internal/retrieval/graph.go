package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"laneassist/internal/config"
	"laneassist/internal/models"
)

const partQuery = `MATCH (p:Part)-[:MANUFACTURED_BY]->(b:Brand)
WHERE toLower(p.name) CONTAINS toLower($part_name)
RETURN b.name AS brand, p.name AS part_name, p.product_code AS code, p.wholesale_price AS price, p.spec AS spec
LIMIT $limit`

type record map[string]any

// queryFunc runs a read query and returns the rows keyed by column.
type queryFunc func(ctx context.Context, query string, params map[string]any) ([]record, error)

// GraphSearcher runs fuzzy part-name lookups against the product graph.
type GraphSearcher struct {
	run   queryFunc
	limit int
	close func(context.Context) error
}

// NewGraphSearcher connects to Neo4j and verifies connectivity.
func NewGraphSearcher(ctx context.Context, cfg config.Neo4jConfig, limit int) (*GraphSearcher, error) {
	if cfg.URI == "" {
		return nil, errors.New("neo4j uri not configured")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	run := func(ctx context.Context, query string, params map[string]any) ([]record, error) {
		res, err := neo4j.ExecuteQuery(ctx, driver, query, params,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithReadersRouting())
		if err != nil {
			return nil, err
		}
		rows := make([]record, 0, len(res.Records))
		for _, rec := range res.Records {
			rows = append(rows, record(rec.AsMap()))
		}
		return rows, nil
	}
	g := newGraphSearcher(run, limit)
	g.close = driver.Close
	return g, nil
}

func newGraphSearcher(run queryFunc, limit int) *GraphSearcher {
	if limit <= 0 {
		limit = config.DefaultGraphLimit
	}
	return &GraphSearcher{run: run, limit: limit}
}

// Search returns parts whose name contains partName, case-insensitively.
func (g *GraphSearcher) Search(ctx context.Context, partName string) ([]models.GraphFact, error) {
	partName = strings.TrimSpace(partName)
	if partName == "" {
		return nil, nil
	}
	if g == nil || g.run == nil {
		return nil, errors.New("graph search not configured")
	}
	rows, err := g.run(ctx, partQuery, map[string]any{"part_name": partName, "limit": int64(g.limit)})
	if err != nil {
		return nil, fmt.Errorf("query parts: %w", err)
	}
	facts := make([]models.GraphFact, 0, len(rows))
	for _, row := range rows {
		facts = append(facts, models.GraphFact{
			Brand: row.str("brand"),
			Part:  row.str("part_name"),
			Code:  row.str("code"),
			Price: row.str("price"),
			Spec:  row.str("spec"),
		})
	}
	return facts, nil
}

func (g *GraphSearcher) Close(ctx context.Context) error {
	if g == nil || g.close == nil {
		return nil
	}
	return g.close(ctx)
}

func (r record) str(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
