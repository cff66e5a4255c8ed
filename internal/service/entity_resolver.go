package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
)

type courseStore interface {
	FindByNames(ctx context.Context, names []string) ([]models.Course, error)
	InsertNames(ctx context.Context, names []string) error
}

type labStore interface {
	FindByCourseIDs(ctx context.Context, courseIDs []int64) ([]models.Lab, error)
	InsertMany(ctx context.Context, labs []models.Lab) error
}

type subscriptionLookup interface {
	FindByGUIDs(ctx context.Context, guids []string) ([]models.Subscription, error)
	InsertGUIDs(ctx context.Context, guids []string) error
}

// EntityResolver maps crawl natural keys to surrogate ids, creating what is missing.
type EntityResolver struct {
	courses       courseStore
	labs          labStore
	subscriptions subscriptionLookup
	logger        *zap.Logger
}

// NewEntityResolver constructs the resolver.
func NewEntityResolver(courses courseStore, labs labStore, subscriptions subscriptionLookup, logger *zap.Logger) *EntityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityResolver{courses: courses, labs: labs, subscriptions: subscriptions, logger: logger}
}

// ResolveBatch validates the columns of an in-memory batch before resolving it.
func (r *EntityResolver) ResolveBatch(ctx context.Context, batch models.CrawlBatch) (map[string]int64, map[models.LabKey]int64, error) {
	if err := CheckColumns(batch.Columns); err != nil {
		return nil, nil, err
	}
	courses, err := r.ResolveCourses(ctx, batch.Rows)
	if err != nil {
		return nil, nil, err
	}
	labs, err := r.ResolveLabs(ctx, batch.Rows, courses)
	if err != nil {
		return nil, nil, err
	}
	return courses, labs, nil
}

// ResolveCourses returns course name to id for every course in rows.
func (r *EntityResolver) ResolveCourses(ctx context.Context, rows []models.CrawlRow) (map[string]int64, error) {
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptyBatch, "crawl batch has no rows")
	}
	names := distinct(rows, func(row models.CrawlRow) string { return row.CourseName })
	if len(names) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptyBatch, "crawl batch has no course names")
	}

	lookup := func() (map[string]int64, error) {
		found, err := r.courses.FindByNames(ctx, names)
		if err != nil {
			return nil, err
		}
		ids := make(map[string]int64, len(found))
		for _, c := range found {
			ids[c.Name] = c.ID
		}
		return ids, nil
	}

	ids, err := lookup()
	if err != nil {
		return nil, fmt.Errorf("resolve courses: %w", err)
	}
	missing := missingKeys(names, ids)
	if len(missing) == 0 {
		return ids, nil
	}
	if err := r.courses.InsertNames(ctx, missing); err != nil {
		return nil, fmt.Errorf("resolve courses: %w", err)
	}
	r.logger.Info("courses created", zap.Int("count", len(missing)))
	if ids, err = lookup(); err != nil {
		return nil, fmt.Errorf("resolve courses: %w", err)
	}
	if left := missingKeys(names, ids); len(left) > 0 {
		return nil, fmt.Errorf("resolve courses: %d course(s) not persisted", len(left))
	}
	return ids, nil
}

// ResolveLabs returns (course, lab) to id for every lab in rows.
func (r *EntityResolver) ResolveLabs(ctx context.Context, rows []models.CrawlRow, courses map[string]int64) (map[models.LabKey]int64, error) {
	courseIDs := make([]int64, 0, len(courses))
	for _, id := range courses {
		courseIDs = append(courseIDs, id)
	}

	lookup := func() (map[models.LabKey]int64, error) {
		found, err := r.labs.FindByCourseIDs(ctx, courseIDs)
		if err != nil {
			return nil, err
		}
		names := make(map[int64]string, len(courses))
		for name, id := range courses {
			names[id] = name
		}
		ids := make(map[models.LabKey]int64, len(found))
		for _, lab := range found {
			ids[models.LabKey{Course: names[lab.CourseID], Lab: lab.Name}] = lab.ID
		}
		return ids, nil
	}

	ids, err := lookup()
	if err != nil {
		return nil, fmt.Errorf("resolve labs: %w", err)
	}

	seen := make(map[models.LabKey]struct{})
	var missing []models.Lab
	for _, row := range rows {
		key := models.LabKey{Course: row.CourseName, Lab: row.LabName}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := ids[key]; ok {
			continue
		}
		courseID, ok := courses[row.CourseName]
		if !ok {
			return nil, fmt.Errorf("resolve labs: course %q not resolved", row.CourseName)
		}
		missing = append(missing, models.Lab{CourseID: courseID, Name: row.LabName})
	}
	if len(missing) == 0 {
		return ids, nil
	}
	if err := r.labs.InsertMany(ctx, missing); err != nil {
		return nil, fmt.Errorf("resolve labs: %w", err)
	}
	r.logger.Info("labs created", zap.Int("count", len(missing)))
	if ids, err = lookup(); err != nil {
		return nil, fmt.Errorf("resolve labs: %w", err)
	}
	for key := range seen {
		if _, ok := ids[key]; !ok {
			return nil, fmt.Errorf("resolve labs: lab %q/%q not persisted", key.Course, key.Lab)
		}
	}
	return ids, nil
}

// ResolveSubscriptions returns guid to id for every subscription in rows.
func (r *EntityResolver) ResolveSubscriptions(ctx context.Context, rows []models.CrawlRow) (map[string]int64, error) {
	guids := distinct(rows, func(row models.CrawlRow) string { return row.SubscriptionID })

	lookup := func() (map[string]int64, error) {
		found, err := r.subscriptions.FindByGUIDs(ctx, guids)
		if err != nil {
			return nil, err
		}
		ids := make(map[string]int64, len(found))
		for _, s := range found {
			ids[s.GUID] = s.ID
		}
		return ids, nil
	}

	ids, err := lookup()
	if err != nil {
		return nil, fmt.Errorf("resolve subscriptions: %w", err)
	}
	missing := missingKeys(guids, ids)
	if len(missing) == 0 {
		return ids, nil
	}
	if err := r.subscriptions.InsertGUIDs(ctx, missing); err != nil {
		return nil, fmt.Errorf("resolve subscriptions: %w", err)
	}
	r.logger.Info("subscriptions created", zap.Int("count", len(missing)))
	if ids, err = lookup(); err != nil {
		return nil, fmt.Errorf("resolve subscriptions: %w", err)
	}
	if left := missingKeys(guids, ids); len(left) > 0 {
		return nil, fmt.Errorf("resolve subscriptions: %d subscription(s) not persisted", len(left))
	}
	return ids, nil
}

func distinct(rows []models.CrawlRow, key func(models.CrawlRow) string) []string {
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		k := key(row)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func missingKeys(keys []string, found map[string]int64) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := found[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
