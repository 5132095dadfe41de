package search

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/store"
)

// Catalog lists the index pairs that can be opened. Pairs on the postgres
// backend are only listed while their rows exist in the database.
type Catalog struct {
	Artifacts *artifact.Store
	Database  string
	Connect   func(ctx context.Context, url string) (store.VectorStore, error)
}

func NewCatalog(arts *artifact.Store, database string) *Catalog {
	return &Catalog{Artifacts: arts, Database: database, Connect: store.Connect}
}

// ListIndexes returns the openable pairs in label order.
func (c *Catalog) ListIndexes(ctx context.Context) ([]artifact.IndexInfo, error) {
	infos, err := c.Artifacts.ListIndexes()
	if err != nil {
		return nil, err
	}
	needDB := false
	for _, info := range infos {
		if info.Backend == store.BackendPostgres {
			needDB = true
			break
		}
	}
	if !needDB {
		return infos, nil
	}

	stored := map[string]bool{}
	if c.Database != "" {
		s, err := c.Connect(ctx, c.Database)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		labels, err := s.GetLabels(ctx)
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			stored[l] = true
		}
	}

	out := infos[:0]
	for _, info := range infos {
		if info.Backend == store.BackendPostgres && !stored[info.Label] {
			log.Debug().Str("label", info.Label).Msg("no vectors stored for postgres mapping")
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Ping checks the database when one is configured.
func (c *Catalog) Ping(ctx context.Context) error {
	if c.Database == "" {
		return nil
	}
	s, err := c.Connect(ctx, c.Database)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Ping(ctx)
}
