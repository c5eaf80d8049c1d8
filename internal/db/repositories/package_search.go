package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/forc-lang/forc-registry/internal/db/models"
)

// DefaultPerPage is the page size used when a listing request does not
// specify one.
const DefaultPerPage = 10

// ErrNoSearchPredicate is returned when a combined search is requested with
// none of query, category, or keyword set.
var ErrNoSearchPredicate = errors.New("search requires at least one of query, category, or keyword")

// PageDefaults applies the listing defaults: page 1, perPage 10, perPage
// clamped to at least 1 so a hostile perPage=0 cannot produce an unbounded
// scan loop on the client side.
func PageDefaults(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage == 0 {
		perPage = DefaultPerPage
	}
	if perPage < 1 {
		perPage = 1
	}
	return page, perPage
}

// NormalizePage converts 1-based (page, perPage) request parameters into a
// LIMIT/OFFSET pair.
func NormalizePage(page, perPage int) (limit, offset int) {
	page, perPage = PageDefaults(page, perPage)
	return perPage, (page - 1) * perPage
}

// Fragments shared by the seven search shapes. Each shape composes its own
// full statement from these so the planner sees only the predicates that
// are actually in play — a single catch-all query with COALESCE'd optional
// parameters defeats the trigram indexes.
const (
	searchSelectColumns = `
		p.package_name, pv.package_description, pv.num,
		ARRAY(SELECT pk.keyword FROM package_keywords pk WHERE pk.package_id = p.id ORDER BY pk.keyword) AS keywords,
		ARRAY(SELECT pc.category FROM package_categories pc WHERE pc.package_id = p.id ORDER BY pc.category) AS categories,
		(SELECT MAX(pv2.created_at) FROM package_versions pv2 WHERE pv2.package_id = p.id) AS last_published,
		COUNT(*) OVER() AS total_count`

	searchFrom = `
		FROM packages p
		JOIN package_versions pv ON pv.id = p.default_version`

	// relevanceExpr blends trigram similarity across every text surface a
	// query term can hit. Bound to the query-text parameter.
	relevanceExpr = `GREATEST(
		similarity(p.package_name, %[1]s),
		similarity(COALESCE(pv.package_description, ''), %[1]s),
		COALESCE((SELECT MAX(similarity(pc.category, %[1]s)) FROM package_categories pc WHERE pc.package_id = p.id), 0),
		COALESCE((SELECT MAX(similarity(pk.keyword, %[1]s)) FROM package_keywords pk WHERE pk.package_id = p.id), 0)
	)`

	// textPredicate is the match condition for the free-text query term:
	// substring match on name/description, or trigram proximity on any of
	// name, description, categories, keywords.
	textPredicate = `(
		p.package_name ILIKE '%%' || %[1]s || '%%'
		OR COALESCE(pv.package_description, '') ILIKE '%%' || %[1]s || '%%'
		OR p.package_name %% %[1]s
		OR similarity(COALESCE(pv.package_description, ''), %[1]s) > 0.1
		OR EXISTS (SELECT 1 FROM package_categories pc WHERE pc.package_id = p.id AND pc.category %% %[1]s)
		OR EXISTS (SELECT 1 FROM package_keywords pk WHERE pk.package_id = p.id AND pk.keyword %% %[1]s)
	)`

	categoryPredicate = `EXISTS (SELECT 1 FROM package_categories pc2 WHERE pc2.package_id = p.id AND pc2.category = %s)`
	keywordPredicate  = `EXISTS (SELECT 1 FROM package_keywords pk2 WHERE pk2.package_id = p.id AND pk2.keyword = %s)`

	orderByRelevance = `ORDER BY score DESC, last_published DESC`
	orderByRecency   = `ORDER BY last_published DESC`
)

// SearchPackagesCombined dispatches to one of seven statements depending on
// which of (query, category, keyword) are present. Shapes with a free-text
// query rank by trigram relevance then recency of the newest version;
// category- and keyword-only shapes rank by recency alone. All shapes page
// with LIMIT/OFFSET over the normalized (page, perPage).
func (r *PackageRepository) SearchPackagesCombined(ctx context.Context, query, category, keyword string, page, perPage int) ([]*models.PackagePreview, int64, error) {
	limit, offset := NormalizePage(page, perPage)

	var (
		stmt string
		args []any
	)

	hasQ, hasC, hasK := query != "", category != "", keyword != ""
	switch {
	case hasQ && hasC && hasK:
		stmt = fmt.Sprintf(`SELECT %s, %s AS score %s WHERE %s AND %s AND %s %s LIMIT $4 OFFSET $5`,
			searchSelectColumns,
			fmt.Sprintf(relevanceExpr, "$1"), searchFrom,
			fmt.Sprintf(textPredicate, "$1"),
			fmt.Sprintf(categoryPredicate, "$2"),
			fmt.Sprintf(keywordPredicate, "$3"),
			orderByRelevance)
		args = []any{query, category, keyword, limit, offset}
	case hasQ && hasC:
		stmt = fmt.Sprintf(`SELECT %s, %s AS score %s WHERE %s AND %s %s LIMIT $3 OFFSET $4`,
			searchSelectColumns,
			fmt.Sprintf(relevanceExpr, "$1"), searchFrom,
			fmt.Sprintf(textPredicate, "$1"),
			fmt.Sprintf(categoryPredicate, "$2"),
			orderByRelevance)
		args = []any{query, category, limit, offset}
	case hasQ && hasK:
		stmt = fmt.Sprintf(`SELECT %s, %s AS score %s WHERE %s AND %s %s LIMIT $3 OFFSET $4`,
			searchSelectColumns,
			fmt.Sprintf(relevanceExpr, "$1"), searchFrom,
			fmt.Sprintf(textPredicate, "$1"),
			fmt.Sprintf(keywordPredicate, "$2"),
			orderByRelevance)
		args = []any{query, keyword, limit, offset}
	case hasQ:
		stmt = fmt.Sprintf(`SELECT %s, %s AS score %s WHERE %s %s LIMIT $2 OFFSET $3`,
			searchSelectColumns,
			fmt.Sprintf(relevanceExpr, "$1"), searchFrom,
			fmt.Sprintf(textPredicate, "$1"),
			orderByRelevance)
		args = []any{query, limit, offset}
	case hasC && hasK:
		stmt = fmt.Sprintf(`SELECT %s %s WHERE %s AND %s %s LIMIT $3 OFFSET $4`,
			searchSelectColumns, searchFrom,
			fmt.Sprintf(categoryPredicate, "$1"),
			fmt.Sprintf(keywordPredicate, "$2"),
			orderByRecency)
		args = []any{category, keyword, limit, offset}
	case hasC:
		stmt = fmt.Sprintf(`SELECT %s %s WHERE %s %s LIMIT $2 OFFSET $3`,
			searchSelectColumns, searchFrom,
			fmt.Sprintf(categoryPredicate, "$1"),
			orderByRecency)
		args = []any{category, limit, offset}
	case hasK:
		stmt = fmt.Sprintf(`SELECT %s %s WHERE %s %s LIMIT $2 OFFSET $3`,
			searchSelectColumns, searchFrom,
			fmt.Sprintf(keywordPredicate, "$1"),
			orderByRecency)
		args = []any{keyword, limit, offset}
	default:
		return nil, 0, ErrNoSearchPredicate
	}

	var rows []struct {
		models.PackagePreview
		Keywords      pq.StringArray `db:"keywords"`
		Categories    pq.StringArray `db:"categories"`
		LastPublished time.Time      `db:"last_published"`
		Score         *float64       `db:"score"`
		TotalCount    int64          `db:"total_count"`
	}
	if err := r.db.SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, 0, err
	}

	var total int64
	previews := make([]*models.PackagePreview, len(rows))
	for i := range rows {
		rows[i].PackagePreview.Keywords = []string(rows[i].Keywords)
		rows[i].PackagePreview.Categories = []string(rows[i].Categories)
		previews[i] = &rows[i].PackagePreview
		total = rows[i].TotalCount
	}
	return previews, total, nil
}

// GetFullPackages lists packages at their default version, newest publish
// first, optionally restricted to packages whose default version was
// published after updatedAfter. The second return value is the total row
// count before pagination.
func (r *PackageRepository) GetFullPackages(ctx context.Context, updatedAfter *time.Time, page, perPage int) ([]*models.FullPackage, int64, error) {
	limit, offset := NormalizePage(page, perPage)

	where := ""
	args := []any{limit, offset}
	if updatedAfter != nil {
		where = "WHERE pv.created_at > $3"
		args = append(args, *updatedAfter)
	}

	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total_count
		FROM packages p
		JOIN package_versions pv ON pv.id = p.default_version
		JOIN uploads u ON u.id = pv.upload_id
		JOIN users usr ON usr.id = pv.published_by
		%s
		ORDER BY pv.created_at DESC
		LIMIT $1 OFFSET $2
	`, fullPackageColumns, where)

	var rows []struct {
		models.FullPackage
		Urls       pq.StringArray `db:"urls"`
		TotalCount int64          `db:"total_count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	var total int64
	result := make([]*models.FullPackage, len(rows))
	for i := range rows {
		rows[i].FullPackage.Urls = []string(rows[i].Urls)
		result[i] = &rows[i].FullPackage
		total = rows[i].TotalCount
	}
	return result, total, nil
}
