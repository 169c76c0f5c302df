package dag

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/specialistvlad/jobgrid/internal/fsutil"
)

// Job is one node of a DAG: a materialized unit and its hierarchy level.
type Job struct {
	ID    string
	Path  string
	Level int
	// Done marks a job whose unit already holds a successful output.
	Done bool
}

// Relation makes every parent a prerequisite of every child.
type Relation struct {
	Parents  []string
	Children []string
}

// Description is the dependency structure derived from a job list.
type Description struct {
	Jobs      []Job
	Levels    []int
	Relations []Relation
}

// Build groups jobs by level and links adjacent levels. Levels are taken in
// first-seen order and then sorted ascending; jobs keep their input order
// within a level. Invalid input is rejected before anything is derived.
func Build(jobs []Job) (*Description, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("dag has no jobs")
	}

	seen := make(map[string]bool, len(jobs))
	byLevel := make(map[int][]string)
	var levels []int
	for i, j := range jobs {
		switch {
		case j.ID == "":
			return nil, fmt.Errorf("job %d has no id", i)
		case strings.ContainsAny(j.ID, " \t\r\n"):
			return nil, fmt.Errorf("job id %q contains whitespace", j.ID)
		case strings.ContainsAny(j.ID, `/\`) || j.ID == "." || j.ID == "..":
			return nil, fmt.Errorf("job id %q is not a plain directory name", j.ID)
		case j.Path == "":
			return nil, fmt.Errorf("job %q has no path", j.ID)
		case j.Level < 0:
			return nil, fmt.Errorf("job %q has negative hierarchy level %d", j.ID, j.Level)
		case seen[j.ID]:
			return nil, fmt.Errorf("duplicate job id %q", j.ID)
		}
		seen[j.ID] = true
		if _, ok := byLevel[j.Level]; !ok {
			levels = append(levels, j.Level)
		}
		byLevel[j.Level] = append(byLevel[j.Level], j.ID)
	}
	slices.Sort(levels)

	d := &Description{Jobs: slices.Clone(jobs), Levels: levels}
	for i := 0; i+1 < len(levels); i++ {
		d.Relations = append(d.Relations, Relation{
			Parents:  byLevel[levels[i]],
			Children: byLevel[levels[i+1]],
		})
	}
	return d, nil
}

// WriteTo writes the description in the scheduler's DAG file format: one
// JOB line per job, then one PARENT ... CHILD ... line per relation. Jobs
// already done carry the DONE keyword so the scheduler does not rerun them.
func (d *Description) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, j := range d.Jobs {
		if j.Done {
			fmt.Fprintf(&b, "JOB %s %s DONE\n", j.ID, j.Path)
			continue
		}
		fmt.Fprintf(&b, "JOB %s %s\n", j.ID, j.Path)
	}
	for _, r := range d.Relations {
		fmt.Fprintf(&b, "PARENT %s CHILD %s\n", strings.Join(r.Parents, " "), strings.Join(r.Children, " "))
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Render returns the DAG file text.
func (d *Description) Render() string {
	var b strings.Builder
	d.WriteTo(&b)
	return b.String()
}

// WriteFile atomically writes the DAG file to path.
func (d *Description) WriteFile(path string) error {
	return fsutil.WriteFileAtomic(path, []byte(d.Render()), 0o644)
}

// AllDone reports whether every job is already done.
func (d *Description) AllDone() bool {
	for _, j := range d.Jobs {
		if !j.Done {
			return false
		}
	}
	return true
}

// Graph returns the dependency graph with an edge from every parent to every
// child of each relation.
func (d *Description) Graph() (*Graph, error) {
	g := NewGraph()
	for _, j := range d.Jobs {
		g.AddNode(j.ID)
	}
	for _, r := range d.Relations {
		for _, p := range r.Parents {
			for _, c := range r.Children {
				if err := g.AddEdge(p, c); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// Job returns the job with the given ID.
func (d *Description) Job(id string) (Job, bool) {
	for _, j := range d.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

var _ io.WriterTo = (*Description)(nil)
