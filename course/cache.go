package course

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/padraicbc/orienteer/models"
)

// Cache keeps built graphs by course id. Courses do not change during
// competition, so a graph is built once and then shared by all validations.
type Cache struct {
	graphs *xsync.MapOf[int64, *Graph]
}

func NewCache() *Cache {
	return &Cache{graphs: xsync.NewMapOf[int64, *Graph]()}
}

// Get returns the cached graph or builds it. Build errors are not cached.
func (c *Cache) Get(crs *models.Course) (*Graph, error) {
	if g, ok := c.graphs.Load(crs.CourseID); ok {
		return g, nil
	}
	g, err := Build(crs, crs.Controls)
	if err != nil {
		return nil, err
	}
	actual, _ := c.graphs.LoadOrStore(crs.CourseID, g)
	return actual, nil
}

// Forget drops a course, e.g. after an administrator replaced it.
func (c *Cache) Forget(courseID int64) {
	c.graphs.Delete(courseID)
}
