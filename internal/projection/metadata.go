package projection

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hyokadb/hyokadb/internal/errors"
	"github.com/hyokadb/hyokadb/internal/source"
	"github.com/hyokadb/hyokadb/internal/store"
)

// MetadataProjector maintains program_search_doc: one search document
// per living program, recomputed in full on every program change.
type MetadataProjector struct {
	st *store.Store
}

// NewMetadataProjector creates the search-document projector over st.
func NewMetadataProjector(st *store.Store) *MetadataProjector {
	return &MetadataProjector{st: st}
}

// OnChange implements source.Hook. Only program changes matter here;
// narrative entities never touch the document index.
func (p *MetadataProjector) OnChange(ctx context.Context, tx *sql.Tx, ch source.Change) error {
	if ch.Kind != source.KindProgram {
		return nil
	}

	if ch.Op == source.OpDelete {
		return p.st.DeleteSearchDoc(ctx, tx, ch.PK)
	}

	prog, ok := ch.State.(*source.Program)
	if !ok {
		return errors.DerivationError("program change carries no program state", nil)
	}
	doc := &store.SearchDoc{
		ProgramID: ch.PK,
		Code:      prog.Code,
		OrgCode:   prog.OrgCode,
		Name:      prog.Name,
		Policy:    prog.Policy,
		Measure:   prog.Measure,
		Body:      docBody(prog),
	}
	return p.st.UpsertSearchDoc(ctx, tx, doc)
}

// docBody concatenates the program's narrative fields in fixed order.
// Absent fields contribute an empty line, so recomputing from the same
// state is byte-identical.
func docBody(p *source.Program) string {
	return strings.Join([]string{
		p.Objective,
		p.Content,
		p.Classification1,
		p.Classification2,
		p.ServiceCategory,
		p.LegalBasisText,
		p.GeneralPlanText,
		p.SDGsOrientation,
		p.ReformLinkText,
	}, "\n")
}
