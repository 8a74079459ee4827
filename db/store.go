package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/padraicbc/orienteer/category"
	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/standings"
	"github.com/padraicbc/orienteer/startlist"
)

// Store persists the result engine in PostgreSQL.
type Store struct {
	db *bun.DB
}

// NewStore wraps an open connection.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ standings.Store = (*Store)(nil)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("loading %s %d: %w", what, id, err)
}

// LoadCategory reads a consistent snapshot of one category.
func (s *Store) LoadCategory(ctx context.Context, categoryID int64) (*standings.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	snap := &standings.Snapshot{
		Category:      new(models.Category),
		Race:          new(models.Race),
		Event:         new(models.Event),
		EventCategory: new(models.EventCategory),
		Courses:       map[int64]*models.Course{},
		Previous:      map[int64]*models.CompetitorResult{},
	}

	err = tx.NewSelect().Model(snap.Category).
		Relation("Courses").
		Where("cat.category_id = ?", categoryID).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "category", categoryID)
	}
	if err := tx.NewSelect().Model(snap.Race).Where("race_id = ?", snap.Category.RaceID).Scan(ctx); err != nil {
		return nil, notFound(err, "race", snap.Category.RaceID)
	}
	if err := tx.NewSelect().Model(snap.Event).Where("event_id = ?", snap.Race.EventID).Scan(ctx); err != nil {
		return nil, notFound(err, "event", snap.Race.EventID)
	}
	err = tx.NewSelect().Model(snap.EventCategory).
		Relation("Legs", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("lg.leg_number")
		}).
		Where("ec.event_category_id = ?", snap.Category.EventCategoryID).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "event category", snap.Category.EventCategoryID)
	}

	if len(snap.Category.Courses) > 0 {
		ids := make([]int64, len(snap.Category.Courses))
		for i, a := range snap.Category.Courses {
			ids[i] = a.CourseID
		}
		var courses []*models.Course
		err = tx.NewSelect().Model(&courses).
			Relation("Controls").
			Where("c.course_id IN (?)", bun.In(ids)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading courses of category %d: %w", categoryID, err)
		}
		for _, c := range courses {
			snap.Courses[c.CourseID] = c
		}
	}

	err = tx.NewSelect().Model(&snap.Starts).
		Relation("CompetitorStarts").
		Relation("CompetitorStarts.Competitor").
		Where("s.category_id = ?", categoryID).
		Order("s.start_id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading starts of category %d: %w", categoryID, err)
	}

	if len(snap.Starts) > 0 {
		ids := make([]int64, len(snap.Starts))
		for i, st := range snap.Starts {
			ids[i] = st.StartID
		}
		var prev []*models.CompetitorResult
		err = tx.NewSelect().Model(&prev).Where("start_id IN (?)", bun.In(ids)).Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading results of category %d: %w", categoryID, err)
		}
		for _, r := range prev {
			snap.Previous[r.CompetitorStartID] = r
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return snap, nil
}

// LoadRace returns the categories and starts of a race.
func (s *Store) LoadRace(ctx context.Context, raceID int64) ([]*models.Category, []*models.Start, error) {
	var cats []*models.Category
	if err := s.db.NewSelect().Model(&cats).Where("race_id = ?", raceID).Scan(ctx); err != nil {
		return nil, nil, fmt.Errorf("loading categories of race %d: %w", raceID, err)
	}
	var starts []*models.Start
	err := s.db.NewSelect().Model(&starts).
		Join("JOIN categories AS cat ON cat.category_id = s.category_id").
		Where("cat.race_id = ?", raceID).
		Order("s.start_id").
		Scan(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading starts of race %d: %w", raceID, err)
	}
	return cats, starts, nil
}

// CategoryOf returns the category a competitor start runs in.
func (s *Store) CategoryOf(ctx context.Context, competitorStartID int64) (int64, error) {
	var id int64
	err := s.db.NewSelect().
		TableExpr("competitor_starts AS cs").
		Column("s.category_id").
		Join("JOIN starts AS s ON s.start_id = cs.start_id").
		Where("cs.competitor_start_id = ?", competitorStartID).
		Scan(ctx, &id)
	if err != nil {
		return 0, notFound(err, "competitor start", competitorStartID)
	}
	return id, nil
}

// Punches returns every persisted raw punch.
func (s *Store) Punches(ctx context.Context) ([]models.Punch, error) {
	var ps []models.Punch
	if err := s.db.NewSelect().Model(&ps).Order("time").Scan(ctx); err != nil {
		return nil, fmt.Errorf("loading punches: %w", err)
	}
	return ps, nil
}

// AppendPunches inserts raw punches, skipping ones already stored.
func (s *Store) AppendPunches(ctx context.Context, punches []models.Punch) error {
	if len(punches) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().Model(&punches).On("CONFLICT DO NOTHING").Exec(ctx)
	return err
}

// Pins returns every pinned punch ordered by competitor start and position.
func (s *Store) Pins(ctx context.Context) ([]models.PinnedPunch, error) {
	var ps []models.PinnedPunch
	if err := s.db.NewSelect().Model(&ps).Order("competitor_start_id", "position").Scan(ctx); err != nil {
		return nil, fmt.Errorf("loading pinned punches: %w", err)
	}
	return ps, nil
}

// SavePins replaces the pinned sequence of a competitor start.
func (s *Store) SavePins(ctx context.Context, competitorStartID int64, pins []models.PinnedPunch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.NewDelete().Model((*models.PinnedPunch)(nil)).
		Where("competitor_start_id = ?", competitorStartID).Exec(ctx); err != nil {
		return fmt.Errorf("clearing pins of %d: %w", competitorStartID, err)
	}
	if len(pins) > 0 {
		if _, err := tx.NewInsert().Model(&pins).Exec(ctx); err != nil {
			return fmt.Errorf("pinning %d: %w", competitorStartID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// MoveStarts writes new categories of starts in one transaction.
func (s *Store) MoveStarts(ctx context.Context, starts []*models.Start) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, st := range starts {
		_, err := tx.NewUpdate().Model(st).Column("category_id").WherePK().Exec(ctx)
		if err != nil {
			return fmt.Errorf("moving start %d: %w", st.StartID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// SaveRankings replaces the stored results of the ranked categories in one
// transaction.
func (s *Store) SaveRankings(ctx context.Context, rankings ...*standings.Ranking) error {
	if len(rankings) == 0 {
		return nil
	}
	var (
		catIDs      []int64
		startIDs    []int64
		results     []*models.Result
		competitors []*models.CompetitorResult
	)
	for _, r := range rankings {
		catIDs = append(catIDs, r.CategoryID)
		for _, res := range r.Results {
			startIDs = append(startIDs, res.StartID)
			results = append(results, res)
			competitors = append(competitors, res.Competitors...)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.NewDelete().Model((*models.CompetitorResult)(nil)).
		Where("start_id IN (SELECT start_id FROM results WHERE category_id IN (?))", bun.In(catIDs)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("clearing competitor results: %w", err)
	}
	_, err = tx.NewDelete().Model((*models.Result)(nil)).Where("category_id IN (?)", bun.In(catIDs)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("clearing results: %w", err)
	}
	if len(startIDs) > 0 {
		// Starts that came from another category still have rows there.
		if _, err = tx.NewDelete().Model((*models.CompetitorResult)(nil)).Where("start_id IN (?)", bun.In(startIDs)).Exec(ctx); err != nil {
			return fmt.Errorf("clearing moved competitor results: %w", err)
		}
		if _, err = tx.NewDelete().Model((*models.Result)(nil)).Where("start_id IN (?)", bun.In(startIDs)).Exec(ctx); err != nil {
			return fmt.Errorf("clearing moved results: %w", err)
		}
		if _, err = tx.NewInsert().Model(&results).Exec(ctx); err != nil {
			return fmt.Errorf("inserting results: %w", err)
		}
	}
	if len(competitors) > 0 {
		if _, err = tx.NewInsert().Model(&competitors).Exec(ctx); err != nil {
			return fmt.Errorf("inserting competitor results: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Results returns the stored ranking of a category.
func (s *Store) Results(ctx context.Context, categoryID int64) ([]*models.Result, error) {
	var results []*models.Result
	err := s.db.NewSelect().Model(&results).
		Where("category_id = ?", categoryID).
		OrderExpr("position = 0, position, start_id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading results of category %d: %w", categoryID, err)
	}
	if len(results) == 0 {
		return results, nil
	}

	byStart := make(map[int64]*models.Result, len(results))
	ids := make([]int64, len(results))
	for i, r := range results {
		byStart[r.StartID] = r
		ids[i] = r.StartID
	}
	var crs []*models.CompetitorResult
	err = s.db.NewSelect().Model(&crs).
		Where("start_id IN (?)", bun.In(ids)).
		Order("competitor_start_id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading competitor results of category %d: %w", categoryID, err)
	}
	for _, cr := range crs {
		if r, ok := byStart[cr.StartID]; ok {
			r.Competitors = append(r.Competitors, cr)
		}
	}
	return results, nil
}

// Course returns a course with its controls.
func (s *Store) Course(ctx context.Context, courseID int64) (*models.Course, error) {
	c := new(models.Course)
	err := s.db.NewSelect().Model(c).Relation("Controls").Where("c.course_id = ?", courseID).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "course", courseID)
	}
	return c, nil
}

// CompetitorTimes is a correction of recorded times.
type CompetitorTimes struct {
	StartTime      *time.Time     `json:"startTime"`
	FinishTime     *time.Time     `json:"finishTime"`
	TimeAdjustment *time.Duration `json:"timeAdjustment"`
}

// UpdateTimes writes the given times of a competitor start. Nil fields are
// left unchanged.
func (s *Store) UpdateTimes(ctx context.Context, competitorStartID int64, t CompetitorTimes) error {
	cs := &models.CompetitorStart{CompetitorStartID: competitorStartID}
	var cols []string
	if t.StartTime != nil {
		cs.StartTime = t.StartTime
		cols = append(cols, "start_time")
	}
	if t.FinishTime != nil {
		cs.FinishTime = t.FinishTime
		cols = append(cols, "finish_time")
	}
	if t.TimeAdjustment != nil {
		cs.TimeAdjustment = *t.TimeAdjustment
		cols = append(cols, "time_adjustment")
	}
	if len(cols) == 0 {
		return nil
	}
	res, err := s.db.NewUpdate().Model(cs).Column(cols...).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating competitor start %d: %w", competitorStartID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("competitor start %d: %w", competitorStartID, ErrNotFound)
	}
	return nil
}

// AssignEntries assigns the entries of the race's event that have no start
// in the race yet, and creates their starts and competitor starts.
func (s *Store) AssignEntries(ctx context.Context, raceID int64) (category.Assignment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return category.Assignment{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	race := new(models.Race)
	if err := tx.NewSelect().Model(race).Where("race_id = ?", raceID).Scan(ctx); err != nil {
		return category.Assignment{}, notFound(err, "race", raceID)
	}

	var eventCats []*models.EventCategory
	if err := tx.NewSelect().Model(&eventCats).Where("event_id = ?", race.EventID).Scan(ctx); err != nil {
		return category.Assignment{}, fmt.Errorf("loading event categories: %w", err)
	}
	var cats []*models.Category
	if err := tx.NewSelect().Model(&cats).Where("race_id = ?", raceID).Scan(ctx); err != nil {
		return category.Assignment{}, fmt.Errorf("loading categories: %w", err)
	}
	raceCat := make(map[int64]int64, len(cats))
	for _, c := range cats {
		raceCat[c.EventCategoryID] = c.CategoryID
	}

	// Vacancies count entries already started in the race.
	taken := map[int64]int{}
	var counts []struct {
		EventCategoryID int64 `bun:"event_category_id"`
		N               int   `bun:"n"`
	}
	err = tx.NewSelect().
		TableExpr("starts AS s").
		ColumnExpr("cat.event_category_id, count(*) AS n").
		Join("JOIN categories AS cat ON cat.category_id = s.category_id").
		Where("cat.race_id = ?", raceID).
		GroupExpr("cat.event_category_id").
		Scan(ctx, &counts)
	if err != nil {
		return category.Assignment{}, fmt.Errorf("counting starts: %w", err)
	}
	for _, c := range counts {
		taken[c.EventCategoryID] = c.N
	}
	for _, ec := range eventCats {
		if ec.MaxCompetitors != nil {
			left := max(*ec.MaxCompetitors-taken[ec.EventCategoryID], 0)
			ec.MaxCompetitors = &left
		}
	}

	var entries []*models.Entry
	err = tx.NewSelect().Model(&entries).
		Relation("Competitors").
		Relation("Competitors.Person").
		Relation("CategoryRequests").
		Where("e.event_id = ?", race.EventID).
		Where("NOT EXISTS (SELECT 1 FROM starts AS s JOIN categories AS cat ON cat.category_id = s.category_id WHERE s.entry_id = e.entry_id AND cat.race_id = ?)", raceID).
		Scan(ctx)
	if err != nil {
		return category.Assignment{}, fmt.Errorf("loading entries: %w", err)
	}

	a := category.Assign(entries, eventCats, race.Date)

	for _, e := range entries {
		ecID, ok := a.Category[e.EntryID]
		if !ok {
			continue
		}
		catID, ok := raceCat[ecID]
		if !ok {
			return category.Assignment{}, fmt.Errorf("event category %d has no category in race %d", ecID, raceID)
		}
		st := &models.Start{
			EntryID:     e.EntryID,
			CategoryID:  catID,
			Competitive: true,
			Ranking:     taken[ecID] + a.Ranking[e.EntryID],
		}
		if _, err := tx.NewInsert().Model(st).Returning("start_id").Exec(ctx); err != nil {
			return category.Assignment{}, fmt.Errorf("creating start of entry %d: %w", e.EntryID, err)
		}
		if len(e.Competitors) == 0 {
			continue
		}
		css := make([]*models.CompetitorStart, len(e.Competitors))
		for i, c := range e.Competitors {
			css[i] = &models.CompetitorStart{StartID: st.StartID, CompetitorID: c.CompetitorID}
		}
		if _, err := tx.NewInsert().Model(&css).Exec(ctx); err != nil {
			return category.Assignment{}, fmt.Errorf("creating competitor starts of entry %d: %w", e.EntryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return category.Assignment{}, err
	}
	committed = true
	return a, nil
}

// SaveCourse stores a new course with its controls. In c, the After and
// Before hints of a control hold the index of another control in c.Controls;
// they are rewritten to stored ids. check sees the course with its stored
// ids; an error from it discards the course.
func (s *Store) SaveCourse(ctx context.Context, c *models.Course, check func(*models.Course) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.NewInsert().Model(c).Returning("course_id").Exec(ctx); err != nil {
		return fmt.Errorf("inserting course: %w", err)
	}
	if len(c.Controls) > 0 {
		type hint struct{ after, before *int64 }
		hints := make([]hint, len(c.Controls))
		for i, cc := range c.Controls {
			cc.CourseID = c.CourseID
			hints[i] = hint{cc.After, cc.Before}
			cc.After, cc.Before = nil, nil
		}
		if _, err := tx.NewInsert().Model(&c.Controls).Returning("course_control_id").Exec(ctx); err != nil {
			return fmt.Errorf("inserting course controls: %w", err)
		}

		resolve := func(i int, ref *int64) (*int64, error) {
			if ref == nil {
				return nil, nil
			}
			if *ref < 0 || *ref >= int64(len(c.Controls)) {
				return nil, &course.MalformedCourseError{CourseID: c.CourseID, Reason: fmt.Sprintf("control %d has hint to unknown index %d", i, *ref)}
			}
			id := c.Controls[*ref].CourseControlID
			return &id, nil
		}
		var hinted []*models.CourseControl
		for i, h := range hints {
			cc := c.Controls[i]
			if cc.After, err = resolve(i, h.after); err != nil {
				return err
			}
			if cc.Before, err = resolve(i, h.before); err != nil {
				return err
			}
			if cc.After != nil || cc.Before != nil {
				hinted = append(hinted, cc)
			}
		}
		if len(hinted) > 0 {
			_, err := tx.NewUpdate().Model(&hinted).Column("after_id", "before_id").Bulk().Exec(ctx)
			if err != nil {
				return fmt.Errorf("storing control hints: %w", err)
			}
		}
	}
	if err := check(c); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// StartList is a generated start list.
type StartList struct {
	// Slots are keyed by course.
	Slots      map[int64]startlist.Slots `json:"slots"`
	Categories []*models.Category         `json:"categories"`
	Starts     []*models.Start            `json:"starts"`
}

// GenerateStartList assigns start times to every start of a race and
// stores the first start of each category. Categories without a course
// are left alone.
func (s *Store) GenerateStartList(ctx context.Context, raceID int64, o startlist.Options) (*StartList, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	race := new(models.Race)
	if err := tx.NewSelect().Model(race).Where("race_id = ?", raceID).Scan(ctx); err != nil {
		return nil, notFound(err, "race", raceID)
	}
	var cats []*models.Category
	if err := tx.NewSelect().Model(&cats).Relation("Courses").Where("cat.race_id = ?", raceID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("loading categories of race %d: %w", raceID, err)
	}
	var starts []*models.Start
	err = tx.NewSelect().Model(&starts).
		Join("JOIN categories AS cat ON cat.category_id = s.category_id").
		Where("cat.race_id = ?", raceID).
		Order("s.start_id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading starts of race %d: %w", raceID, err)
	}

	entries := map[int64]*models.Entry{}
	if len(starts) > 0 {
		ids := make([]int64, len(starts))
		for i, st := range starts {
			ids[i] = st.EntryID
		}
		var es []*models.Entry
		if err := tx.NewSelect().Model(&es).Where("entry_id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
			return nil, fmt.Errorf("loading entries of race %d: %w", raceID, err)
		}
		for _, e := range es {
			entries[e.EntryID] = e
		}
	}

	byCategory := map[int64]*startlist.Category{}
	var planned []*startlist.Category
	for _, c := range cats {
		courseID, ok := firstCourse(c)
		if !ok {
			continue
		}
		sc := &startlist.Category{Category: c, CourseID: courseID}
		byCategory[c.CategoryID] = sc
		planned = append(planned, sc)
	}
	var placed []*models.Start
	for _, st := range starts {
		sc, ok := byCategory[st.CategoryID]
		if !ok {
			continue
		}
		e := startlist.Entrant{Start: st}
		if entry, ok := entries[st.EntryID]; ok {
			e.Request = entry.StartRequest
			e.OrganisationID = entry.OrganisationID
		}
		sc.Entrants = append(sc.Entrants, e)
		placed = append(placed, st)
	}

	slots, err := startlist.Generate(planned, o)
	if err != nil {
		return nil, fmt.Errorf("race %d: %w", raceID, err)
	}

	updated := make([]*models.Category, len(planned))
	for i, sc := range planned {
		updated[i] = sc.Category
	}
	if len(updated) > 0 {
		if _, err := tx.NewUpdate().Model(&updated).Column("first_start").Bulk().Exec(ctx); err != nil {
			return nil, fmt.Errorf("storing first starts: %w", err)
		}
	}
	if len(placed) > 0 {
		if _, err := tx.NewUpdate().Model(&placed).Column("time_offset").Bulk().Exec(ctx); err != nil {
			return nil, fmt.Errorf("storing start offsets: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return &StartList{Slots: slots, Categories: updated, Starts: placed}, nil
}

// firstCourse is the course of the lowest leg of a category.
func firstCourse(c *models.Category) (int64, bool) {
	var best *models.CategoryCourseAssignment
	for _, a := range c.Courses {
		if best == nil || a.LegNumber < best.LegNumber {
			best = a
		}
	}
	if best == nil {
		return 0, false
	}
	return best.CourseID, true
}
