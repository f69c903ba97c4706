package planner

import (
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"graph-indexer/internal/dialect"
	"graph-indexer/internal/sqlutil"
)

// Statement is a synthesized query with its bind arguments. Every row it
// returns has one JSON column.
type Statement struct {
	SQL  string
	Args []interface{}
}

// PageInfoKey and the names below are the keys of a paginated response.
const (
	PageInfoKey    = "page_info"
	HasNextPageKey = "has_next_page"
	LimitKey       = "limit"
	OffsetKey      = "offset"
	PagesKey       = "pages"
	TotalCountKey  = "total_count"
)

// mysqlNoLimit is the documented way to ask MySQL for an offset without a limit.
const mysqlNoLimit = uint64(18446744073709551615)

// Synthesize compiles a prepared root selection into one statement. List
// fields become common tables aggregated per parent row. A limit switches
// to the paginated shape, a single row holding page_info and the page.
func Synthesize(sel *PreparedSelection, graph *JoinGraph, params QueryParams, d dialect.Dialect) (Statement, error) {
	joins, err := graph.TopologicalJoins()
	if err != nil {
		return Statement{}, err
	}

	var withs []string
	var withArgs []interface{}
	for _, cte := range collectCTEs(sel) {
		sql, args, err := renderCommonTable(cte, d)
		if err != nil {
			return Statement{}, err
		}
		withs = append(withs, sql)
		withArgs = append(withArgs, args...)
	}

	if params.Paginated() {
		return paginated(sel, joins, params, withs, withArgs, d)
	}

	b := d.Builder().Select(renderExpr(sel, d)).From(sel.Table)
	for _, clause := range RenderJoins(joins) {
		b = b.JoinClause(clause)
	}
	if where := params.Where(); where != nil {
		b = b.Where(where)
	}
	if len(params.Sorts) > 0 {
		b = b.OrderBy(params.OrderBy()...)
	}
	if params.Offset != nil {
		if d == dialect.MySQL {
			b = b.Limit(mysqlNoLimit)
		} else if d == dialect.SQLite {
			b = b.Limit(^uint64(0) >> 1)
		}
		b = b.Offset(*params.Offset)
	}
	if len(withs) > 0 {
		b = b.Prefix("WITH "+strings.Join(withs, ", "), withArgs...)
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sql, Args: args}, nil
}

// paginated renders
//
//	WITH selection_cte AS (...), total_count_cte AS (...)
//	SELECT {page_info: {...}, <key>: [page]} FROM total_count_cte
//
// Limit and offset are rendered as literals since they appear in several
// expressions.
func paginated(sel *PreparedSelection, joins []Join, params QueryParams, withs []string, withArgs []interface{}, d dialect.Dialect) (Statement, error) {
	limit := *params.Limit
	var offset uint64
	if params.Offset != nil {
		offset = *params.Offset
	}

	inner := sq.Select(
		renderExpr(sel, d)+" AS item",
		"ROW_NUMBER() OVER (ORDER BY "+strings.Join(params.OrderBy(), ", ")+") AS row_num",
	).From(sel.Table)
	for _, clause := range RenderJoins(joins) {
		inner = inner.JoinClause(clause)
	}
	if where := params.Where(); where != nil {
		inner = inner.Where(where)
	}
	innerSQL, innerArgs, err := inner.ToSql()
	if err != nil {
		return Statement{}, err
	}

	withs = append(withs,
		"selection_cte AS ("+innerSQL+")",
		"total_count_cte AS (SELECT COUNT(*) AS total_count FROM selection_cte)",
	)
	withArgs = append(withArgs, innerArgs...)

	l := strconv.FormatUint(limit, 10)
	o := strconv.FormatUint(offset, 10)
	total := "total_count_cte.total_count"

	pages := "0"
	if limit > 0 {
		div := " / "
		if d == dialect.MySQL {
			div = " DIV "
		}
		pages = "((" + total + " + " + l + " - 1)" + div + l + ")"
	}

	pageInfo := d.JSONObject() + "(" + strings.Join([]string{
		sqlutil.QuoteString(HasNextPageKey), jsonBool("("+l+" + "+o+") < "+total, d),
		sqlutil.QuoteString(LimitKey), l,
		sqlutil.QuoteString(OffsetKey), o,
		sqlutil.QuoteString(PagesKey), pages,
		sqlutil.QuoteString(TotalCountKey), total,
	}, ", ") + ")"

	page := "(SELECT item, row_num FROM selection_cte ORDER BY row_num LIMIT " + l + " OFFSET " + o + ") page"
	items := jsonValue("(SELECT "+pageAggregate(d)+" FROM "+page+")", d)

	body := d.JSONObject() + "(" +
		sqlutil.QuoteString(PageInfoKey) + ", " + pageInfo + ", " +
		sqlutil.QuoteString(sel.Key) + ", " + items + ")"

	b := d.Builder().Select(body).From("total_count_cte").
		Prefix("WITH "+strings.Join(withs, ", "), withArgs...)
	sql, args, err := b.ToSql()
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sql, Args: args}, nil
}

func pageAggregate(d dialect.Dialect) string {
	switch d {
	case dialect.MySQL:
		return "COALESCE(JSON_ARRAYAGG(page.item), JSON_ARRAY())"
	case dialect.SQLite:
		return "COALESCE(json_group_array(json(page.item)), '[]')"
	default:
		return "COALESCE(json_agg(page.item ORDER BY page.row_num), '[]'::json)"
	}
}

// renderCommonTable renders one list common table with '?' placeholders.
func renderCommonTable(cte *CommonTable, d dialect.Dialect) (string, []interface{}, error) {
	joins, err := cte.Graph.TopologicalJoins()
	if err != nil {
		return "", nil, err
	}

	var parentKey, elem *PreparedSelection
	for _, f := range cte.Root.Fields {
		switch {
		case f.Kind == SelectIDReference:
			parentKey = f
		case f.Aggregated:
			elem = f
		}
	}

	agg := d.JSONArrayAgg() + "(" + renderExpr(elem, d)
	if d == dialect.Postgres && len(cte.Params.Sorts) > 0 {
		agg += " ORDER BY " + strings.Join(cte.Params.OrderBy(), ", ")
	}
	agg += ")"

	b := sq.Select(parentKey.Path()+" AS parent_id", agg+" AS items").From(cte.Root.Table)
	for _, clause := range RenderJoins(joins) {
		b = b.JoinClause(clause)
	}
	if where := cte.Params.Where(); where != nil {
		b = b.Where(where)
	}
	b = b.GroupBy(groupByColumns(cte.Root)...)

	sql, args, err := b.ToSql()
	if err != nil {
		return "", nil, err
	}
	return cte.Name + " AS (" + sql + ")", args, nil
}

// renderExpr renders the JSON expression for one node.
func renderExpr(node *PreparedSelection, d dialect.Dialect) string {
	switch node.Kind {
	case SelectScalar, SelectIDReference:
		return node.Path()
	case SelectTypeName:
		return sqlutil.QuoteString(node.Entity)
	case SelectList:
		return jsonValue("COALESCE("+node.Table+".items, "+emptyArray(d)+")", d)
	}

	pairs := make([]string, 0, len(node.Fields)*2)
	for _, f := range node.Fields {
		pairs = append(pairs, sqlutil.QuoteString(f.Key), renderExpr(f, d))
	}
	return d.JSONObject() + "(" + strings.Join(pairs, ", ") + ")"
}

func emptyArray(d dialect.Dialect) string {
	switch d {
	case dialect.MySQL:
		return "JSON_ARRAY()"
	case dialect.SQLite:
		return "'[]'"
	default:
		return "'[]'::json"
	}
}

// jsonValue keeps SQLite from embedding JSON text as a string.
func jsonValue(expr string, d dialect.Dialect) string {
	if d == dialect.SQLite {
		return "json(" + expr + ")"
	}
	return expr
}

func jsonBool(cond string, d dialect.Dialect) string {
	switch d {
	case dialect.MySQL:
		return "IF(" + cond + ", CAST('true' AS JSON), CAST('false' AS JSON))"
	case dialect.SQLite:
		return "CASE WHEN " + cond + " THEN json('true') ELSE json('false') END"
	default:
		return "(" + cond + ")"
	}
}
