package transform

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

const opPrefix = "plone.app.querystring.operation."

// DefaultItemCount is used when a saved search sets no item limit.
const DefaultItemCount = 9999999

// viewFieldMap renames listing columns to target catalog metadata.
var viewFieldMap = map[string]string{
	"contact_name":             "contact_name",
	"getCategories":            "categories",
	"getContract":              "contract",
	"getDefenseDateAndTime":    "date_and_time",
	"getDepartment":            "department",
	"getDepartmentName":        "get_department_name_nl",
	"getDepartmentEnglishName": "get_department_name_en",
	"getFaculty":               "faculty",
	"getFacultyEnglishName":    "get_faculty_name_en",
	"getFullName":              "get_full_name",
	"getGrade":                 "grade",
	"getLastApplicationDate":   "last_application_date",
	"getOccupancyRate":         "occupancy_rate",
}

// indexMap renames criterion fields to target catalog indexes.
var indexMap = map[string]string{
	"getCategories":          "categories",
	"getDefenseDateAndTime":  "date_and_time",
	"getDepartment":          "department",
	"getFaculty":             "faculty",
	"getLastApplicationDate": "last_application_date",
	"getOccupancyRate":       "occupancy_rate",
	"getVacancyType":         "vacancy_type",
	"is_image_folder":        "is_image_folder",
}

var portalTypeMap = map[string]string{"Page": "Document"}

func index(c models.Record) string {
	f := c.String("field")
	if m, ok := indexMap[f]; ok {
		return m
	}
	return f
}

// Query is a rebuilt saved search.
type Query struct {
	Clauses      []models.Clause
	SortOn       string
	SortReversed bool
	sorted       bool
}

func (q *Query) add(i, op string, v interface{}) {
	q.Clauses = append(q.Clauses, models.Clause{Index: i, Operator: opPrefix + op, Value: v})
}

type criterionFunc func(c models.Record, q *Query) error

var criteria = map[string]criterionFunc{
	"ATListCriterion":          listCriterion,
	"ATSortCriterion":          sortCriterion,
	"ATDateCriteria":           dateCriterion,
	"ATPortalTypeCriterion":    portalTypeCriterion,
	"ATPathCriterion":          pathCriterion,
	"ATRelativePathCriterion":  relativePathCriterion,
	"ATSelectionCriterion":     selectionCriterion,
	"ATSimpleIntCriterion":     simpleIntCriterion,
	"ATSimpleStringCriterion":  simpleStringCriterion,
	"ATBooleanCriterion":       booleanCriterion,
	"ATDateRangeCriterion":     unsupportedCriterion,
	"ATCurrentAuthorCriterion": unsupportedCriterion,
	"ATReferenceCriterion":     unsupportedCriterion,
}

// BuildQuery converts criterion records into query clauses. Failing or
// unsupported criteria are logged and left out.
func BuildQuery(children []models.Record, log zerolog.Logger) *Query {
	q := &Query{}
	for _, c := range children {
		fn, ok := criteria[c.Type()]
		if !ok {
			log.Info().Str("type", c.Type()).Str("path", c.Path()).Msg("unable to migrate")
			continue
		}
		if err := fn(c, q); err != nil {
			if errors.Is(err, ErrUnsupported) {
				log.Warn().Str("type", c.Type()).Msg("not implemented")
			} else {
				log.Error().Err(err).Str("path", c.Path()).Msg("unable to migrate criterion")
			}
		}
	}
	return q
}

func listCriterion(c models.Record, q *Query) error {
	op := "selection.all"
	if c.String("operator") == "or" {
		op = "selection.any"
	}
	q.add(index(c), op, c["value"])
	return nil
}

func sortCriterion(c models.Record, q *Query) error {
	q.SortOn = index(c)
	q.SortReversed = c.Bool("reversed")
	q.sorted = true
	return nil
}

// dateCriterion handles relative dates only. "more" than N days maps to
// lessThanRelativeDate and "less" to largerThanRelativeDate, as the legacy
// site behaved.
func dateCriterion(c models.Record, q *Query) error {
	n := c.Int("value")
	var op string
	switch c.String("operation") {
	case "more":
		op = "date.lessThanRelativeDate"
		if n == 0 {
			op = "date.afterToday"
		}
	case "less":
		op = "date.largerThanRelativeDate"
		if n == 0 {
			op = "date.beforeToday"
		}
	default:
		return fmt.Errorf("operation %q unknown", c.String("operation"))
	}
	q.add(index(c), op, strconv.Itoa(n))
	return nil
}

func portalTypeCriterion(c models.Record, q *Query) error {
	switch v := c["value"].(type) {
	case string:
		pt := v
		if m, ok := portalTypeMap[pt]; ok {
			pt = m
		}
		if slices.Contains(IgnoredTypes, pt) {
			return nil
		}
		q.add("portal_type", "selection.any", pt)
	case []interface{}:
		var pts []string
		for _, e := range v {
			pt, _ := e.(string)
			if m, ok := portalTypeMap[pt]; ok {
				pt = m
			}
			if pt != "" && !slices.Contains(IgnoredTypes, pt) {
				pts = append(pts, pt)
			}
		}
		if len(pts) > 0 {
			q.add("portal_type", "selection.any", pts)
		}
	}
	return nil
}

func pathCriterion(c models.Record, q *Query) error {
	depth := "::1"
	if c.Bool("recurse") {
		depth = "::-1"
	}
	for _, uid := range c.Strings("value") {
		q.add("path", "string.absolutePath", uid+depth)
	}
	return nil
}

func relativePathCriterion(c models.Record, q *Query) error {
	v := c.String("relativePath")
	op := "string.relativePath"
	switch {
	case v == "." || v == "..":
		v += "::1"
	case strings.HasPrefix(v, "/"):
		op = "string.absolutePath"
	}
	q.add(c.String("field"), op, v)
	return nil
}

func selectionCriterion(c models.Record, q *Query) error {
	op := "selection.any"
	if c.String("field") == "Subject" && c.String("operator") == "and" {
		op = "selection.all"
	}
	q.add(index(c), op, c["value"])
	return nil
}

func simpleIntCriterion(c models.Record, q *Query) error {
	v := c["value"]
	if !truthy(v) {
		return nil
	}
	var op string
	switch c.String("range") {
	case "":
		op = "int.is"
	case "min":
		op = "int.largerThan"
	case "max":
		op = "int.lessThan"
	case "min:max":
		return fmt.Errorf("min:max ranges on integers: %w", ErrUnsupported)
	default:
		return fmt.Errorf("range %q unknown", c.String("range"))
	}
	q.add(index(c), op, v)
	return nil
}

func simpleStringCriterion(c models.Record, q *Query) error {
	q.add(index(c), "selection.any", []interface{}{c["value"]})
	return nil
}

func booleanCriterion(c models.Record, q *Query) error {
	v := c["bool"]
	op := "boolean.isFalse"
	switch x := v.(type) {
	case bool:
		if x {
			op = "boolean.isTrue"
		}
	case float64:
		if x == 1 {
			op = "boolean.isTrue"
		}
	case string:
		if x == "1" || x == "True" {
			op = "boolean.isTrue"
		}
	}
	q.add(index(c), op, []interface{}{v})
	return nil
}

func unsupportedCriterion(c models.Record, _ *Query) error {
	return fmt.Errorf("%s: %w", c.Type(), ErrUnsupported)
}

func (t *Transformer) collectionFields(ctx context.Context, rec models.Record) (map[string]interface{}, error) {
	children, err := t.children.Descendants(ctx, rec.Path())
	if err != nil {
		return nil, fmt.Errorf("criteria: %w", err)
	}
	log := t.log.With().Str("collection", rec.Path()).Logger()

	itemCount := rec.Int("itemCount")
	if itemCount == 0 {
		itemCount = DefaultItemCount
	}
	legacyFields := rec.Strings("customViewFields")
	viewFields := make([]string, len(legacyFields))
	for i, f := range legacyFields {
		viewFields[i] = f
		if m, ok := viewFieldMap[f]; ok {
			viewFields[i] = m
		}
	}
	log.Debug().Strs("from", legacyFields).Strs("to", viewFields).Msg("customViewFields")

	q := BuildQuery(children, log)
	clauses := q.Clauses
	if clauses == nil {
		clauses = []models.Clause{}
	}
	f := map[string]interface{}{
		"text":             rec["text"],
		"item_count":       itemCount,
		"customViewFields": viewFields,
		"query":            clauses,
	}
	if q.sorted {
		f["sort_on"] = q.SortOn
		f["sort_reversed"] = q.SortReversed
	}
	return f, nil
}
