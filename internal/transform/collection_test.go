package transform

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

func criterion(typ string, fields map[string]interface{}) models.Record {
	rec := models.Record{"_path": "/p/topic/crit-" + typ, "_type": typ}
	for k, v := range fields {
		rec[k] = v
	}
	return rec
}

func TestBuildQuery_Criteria(t *testing.T) {
	tests := []struct {
		name string
		crit models.Record
		want []models.Clause
	}{
		{
			"date more zero",
			criterion("ATDateCriteria", map[string]interface{}{"field": "start", "operation": "more", "value": 0.0}),
			[]models.Clause{{Index: "start", Operator: opPrefix + "date.afterToday", Value: "0"}},
		},
		{
			"date more five",
			criterion("ATDateCriteria", map[string]interface{}{"field": "start", "operation": "more", "value": 5.0}),
			[]models.Clause{{Index: "start", Operator: opPrefix + "date.lessThanRelativeDate", Value: "5"}},
		},
		{
			"date less zero",
			criterion("ATDateCriteria", map[string]interface{}{"field": "getLastApplicationDate", "operation": "less", "value": 0.0}),
			[]models.Clause{{Index: "last_application_date", Operator: opPrefix + "date.beforeToday", Value: "0"}},
		},
		{
			"date less seven",
			criterion("ATDateCriteria", map[string]interface{}{"field": "end", "operation": "less", "value": 7.0}),
			[]models.Clause{{Index: "end", Operator: opPrefix + "date.largerThanRelativeDate", Value: "7"}},
		},
		{
			"list or",
			criterion("ATListCriterion", map[string]interface{}{"field": "getDepartment", "operator": "or", "value": []interface{}{"WE"}}),
			[]models.Clause{{Index: "department", Operator: opPrefix + "selection.any", Value: []interface{}{"WE"}}},
		},
		{
			"list and",
			criterion("ATListCriterion", map[string]interface{}{"field": "x", "operator": "and", "value": []interface{}{"a"}}),
			[]models.Clause{{Index: "x", Operator: opPrefix + "selection.all", Value: []interface{}{"a"}}},
		},
		{
			"portal type page",
			criterion("ATPortalTypeCriterion", map[string]interface{}{"value": []interface{}{"Page", "News Item", "FormStringField"}}),
			[]models.Clause{{Index: "portal_type", Operator: opPrefix + "selection.any", Value: []string{"Document", "News Item"}}},
		},
		{
			"portal type ignored",
			criterion("ATPortalTypeCriterion", map[string]interface{}{"value": "Page Template"}),
			nil,
		},
		{
			"path recursive",
			criterion("ATPathCriterion", map[string]interface{}{"value": []interface{}{"u1", "u2"}, "recurse": true}),
			[]models.Clause{
				{Index: "path", Operator: opPrefix + "string.absolutePath", Value: "u1::-1"},
				{Index: "path", Operator: opPrefix + "string.absolutePath", Value: "u2::-1"},
			},
		},
		{
			"path flat",
			criterion("ATPathCriterion", map[string]interface{}{"value": []interface{}{"u1"}, "recurse": false}),
			[]models.Clause{{Index: "path", Operator: opPrefix + "string.absolutePath", Value: "u1::1"}},
		},
		{
			"relative dot",
			criterion("ATRelativePathCriterion", map[string]interface{}{"field": "path", "relativePath": ".."}),
			[]models.Clause{{Index: "path", Operator: opPrefix + "string.relativePath", Value: "..::1"}},
		},
		{
			"relative absolute",
			criterion("ATRelativePathCriterion", map[string]interface{}{"field": "path", "relativePath": "/nl/news"}),
			[]models.Clause{{Index: "path", Operator: opPrefix + "string.absolutePath", Value: "/nl/news"}},
		},
		{
			"relative up",
			criterion("ATRelativePathCriterion", map[string]interface{}{"field": "path", "relativePath": "../news"}),
			[]models.Clause{{Index: "path", Operator: opPrefix + "string.relativePath", Value: "../news"}},
		},
		{
			"subject and",
			criterion("ATSelectionCriterion", map[string]interface{}{"field": "Subject", "operator": "and", "value": []interface{}{"x"}}),
			[]models.Clause{{Index: "Subject", Operator: opPrefix + "selection.all", Value: []interface{}{"x"}}},
		},
		{
			"selection other field",
			criterion("ATSelectionCriterion", map[string]interface{}{"field": "getFaculty", "operator": "and", "value": []interface{}{"x"}}),
			[]models.Clause{{Index: "faculty", Operator: opPrefix + "selection.any", Value: []interface{}{"x"}}},
		},
		{
			"int min",
			criterion("ATSimpleIntCriterion", map[string]interface{}{"field": "getOccupancyRate", "value": 50.0, "range": "min"}),
			[]models.Clause{{Index: "occupancy_rate", Operator: opPrefix + "int.largerThan", Value: 50.0}},
		},
		{
			"int empty",
			criterion("ATSimpleIntCriterion", map[string]interface{}{"field": "x", "value": 0.0}),
			nil,
		},
		{
			"int min:max",
			criterion("ATSimpleIntCriterion", map[string]interface{}{"field": "x", "value": 3.0, "range": "min:max"}),
			nil,
		},
		{
			"string",
			criterion("ATSimpleStringCriterion", map[string]interface{}{"field": "getVacancyType", "value": "phd"}),
			[]models.Clause{{Index: "vacancy_type", Operator: opPrefix + "selection.any", Value: []interface{}{"phd"}}},
		},
		{
			"boolean true",
			criterion("ATBooleanCriterion", map[string]interface{}{"field": "is_image_folder", "bool": "True"}),
			[]models.Clause{{Index: "is_image_folder", Operator: opPrefix + "boolean.isTrue", Value: []interface{}{"True"}}},
		},
		{
			"boolean false",
			criterion("ATBooleanCriterion", map[string]interface{}{"field": "x", "bool": false}),
			[]models.Clause{{Index: "x", Operator: opPrefix + "boolean.isFalse", Value: []interface{}{false}}},
		},
		{"date range unsupported", criterion("ATDateRangeCriterion", nil), nil},
		{"current author unsupported", criterion("ATCurrentAuthorCriterion", nil), nil},
		{"reference unsupported", criterion("ATReferenceCriterion", nil), nil},
		{"unknown type", criterion("ATFancyCriterion", nil), nil},
		{
			"bad date operation",
			criterion("ATDateCriteria", map[string]interface{}{"field": "x", "operation": "within", "value": 1.0}),
			nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := BuildQuery([]models.Record{tc.crit}, zerolog.Nop())
			assert.Equal(t, tc.want, q.Clauses)
		})
	}
}

func TestBuildQuery_FailureDoesNotStopSiblings(t *testing.T) {
	q := BuildQuery([]models.Record{
		criterion("ATDateCriteria", map[string]interface{}{"field": "x", "operation": "bogus"}),
		criterion("ATReferenceCriterion", nil),
		criterion("ATSortCriterion", map[string]interface{}{"field": "getDefenseDateAndTime", "reversed": true}),
		criterion("ATSimpleStringCriterion", map[string]interface{}{"field": "f", "value": "v"}),
	}, zerolog.Nop())
	require.Len(t, q.Clauses, 1)
	assert.Equal(t, "f", q.Clauses[0].Index)
	assert.Equal(t, "date_and_time", q.SortOn)
	assert.True(t, q.SortReversed)
}

func TestTransform_Topic(t *testing.T) {
	topic := "/plone_portal/nl/vacatures"
	children := fakeChildren{topic: {
		criterion("ATSortCriterion", map[string]interface{}{"field": "effective", "reversed": false}),
		criterion("ATPortalTypeCriterion", map[string]interface{}{"value": "Page"}),
	}}
	tr := newTransformer(children)
	p, err := tr.Transform(context.Background(), models.Record{
		"_path":            topic,
		"_type":            "Topic",
		"text":             "<p>x</p>",
		"itemCount":        0.0,
		"customViewFields": []interface{}{"Title", "getFaculty", "getGrade"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Collection", p.Type)
	assert.Equal(t, DefaultItemCount, p.Field("item_count"))
	assert.Equal(t, []string{"Title", "faculty", "grade"}, p.Field("customViewFields"))
	assert.Equal(t, "effective", p.Field("sort_on"))
	assert.Equal(t, false, p.Field("sort_reversed"))
	assert.Equal(t, []models.Clause{{Index: "portal_type", Operator: opPrefix + "selection.any", Value: "Document"}}, p.Field("query"))
}
