package repository

import (
	"fmt"
	"slices"
	"time"

	"github.com/alphagov/pay-ledger-sub002/internal/projection"
)

const (
	DefaultDisplaySize = 100
	MaxDisplaySize     = 500

	// MaxPage keeps (page-1)*MaxDisplaySize well inside int and Postgres bigint.
	MaxPage = 1_000_000
)

// Filterable is a set of list filters for one projection kind. Filters renders
// SQL predicates with placeholders starting at $argStart; Matches applies the
// same predicates in memory.
type Filterable interface {
	Kind() projection.Kind
	Filters(argStart int) ([]string, []any)
	Matches(rec *projection.Record) bool
	Paging() (limit, offset int)
}

// CommonSearchParams are the filters every projection kind supports.
type CommonSearchParams struct {
	GatewayAccountIDs []string
	Live              *bool
	FromDate          *time.Time
	ToDate            *time.Time
	Page              int
	DisplaySize       int
}

type clauseBuilder struct {
	clauses []string
	args    []any
	pos     int
}

func (b *clauseBuilder) add(format string, arg any) {
	b.clauses = append(b.clauses, fmt.Sprintf(format, b.pos))
	b.args = append(b.args, arg)
	b.pos++
}

func (p CommonSearchParams) filters(b *clauseBuilder) {
	if len(p.GatewayAccountIDs) > 0 {
		b.add("gateway_account_id = ANY($%d)", p.GatewayAccountIDs)
	}
	if p.Live != nil {
		b.add("live = $%d", *p.Live)
	}
	if p.FromDate != nil {
		b.add("created_date >= $%d", *p.FromDate)
	}
	if p.ToDate != nil {
		b.add("created_date < $%d", *p.ToDate)
	}
}

func (p CommonSearchParams) matches(rec *projection.Record) bool {
	if len(p.GatewayAccountIDs) > 0 && !slices.Contains(p.GatewayAccountIDs, rec.GatewayAccountID) {
		return false
	}
	if p.Live != nil && rec.Live != *p.Live {
		return false
	}
	if p.FromDate != nil && rec.CreatedDate.Before(*p.FromDate) {
		return false
	}
	if p.ToDate != nil && !rec.CreatedDate.Before(*p.ToDate) {
		return false
	}
	return true
}

// Paging converts page and display size into a limit and offset.
func (p CommonSearchParams) Paging() (int, int) {
	size := p.DisplaySize
	if size <= 0 {
		size = DefaultDisplaySize
	}
	if size > MaxDisplaySize {
		size = MaxDisplaySize
	}
	page := min(max(p.Page, 1), MaxPage)
	return size, (page - 1) * size
}

// AgreementSearchParams filters agreements.
type AgreementSearchParams struct {
	CommonSearchParams
	State     string
	Reference string
}

func (p AgreementSearchParams) Kind() projection.Kind { return projection.KindAgreement }

func (p AgreementSearchParams) Filters(argStart int) ([]string, []any) {
	b := &clauseBuilder{pos: argStart}
	p.filters(b)
	if p.State != "" {
		b.add("state = $%d", p.State)
	}
	if p.Reference != "" {
		b.add("reference = $%d", p.Reference)
	}
	return b.clauses, b.args
}

func (p AgreementSearchParams) Matches(rec *projection.Record) bool {
	return rec.Kind == projection.KindAgreement && p.matches(rec) &&
		(p.State == "" || rec.State == p.State) &&
		(p.Reference == "" || rec.Reference == p.Reference)
}

// PayoutSearchParams filters payouts.
type PayoutSearchParams struct {
	CommonSearchParams
	State string
}

func (p PayoutSearchParams) Kind() projection.Kind { return projection.KindPayout }

func (p PayoutSearchParams) Filters(argStart int) ([]string, []any) {
	b := &clauseBuilder{pos: argStart}
	p.filters(b)
	if p.State != "" {
		b.add("state = $%d", p.State)
	}
	return b.clauses, b.args
}

func (p PayoutSearchParams) Matches(rec *projection.Record) bool {
	return rec.Kind == projection.KindPayout && p.matches(rec) &&
		(p.State == "" || rec.State == p.State)
}

// TransactionSearchParams filters payments, refunds and disputes.
type TransactionSearchParams struct {
	CommonSearchParams
	State            string
	Reference        string
	TransactionType  string
	ParentExternalID string
}

func (p TransactionSearchParams) Kind() projection.Kind { return projection.KindTransaction }

func (p TransactionSearchParams) Filters(argStart int) ([]string, []any) {
	b := &clauseBuilder{pos: argStart}
	p.filters(b)
	if p.State != "" {
		b.add("state = $%d", p.State)
	}
	if p.Reference != "" {
		b.add("reference = $%d", p.Reference)
	}
	if p.TransactionType != "" {
		b.add("transaction_type = $%d", p.TransactionType)
	}
	if p.ParentExternalID != "" {
		b.add("parent_external_id = $%d", p.ParentExternalID)
	}
	return b.clauses, b.args
}

func (p TransactionSearchParams) Matches(rec *projection.Record) bool {
	return rec.Kind == projection.KindTransaction && p.matches(rec) &&
		(p.State == "" || rec.State == p.State) &&
		(p.Reference == "" || rec.Reference == p.Reference) &&
		(p.TransactionType == "" || rec.TransactionType == p.TransactionType) &&
		(p.ParentExternalID == "" || rec.ParentExternalID == p.ParentExternalID)
}
