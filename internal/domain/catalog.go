package domain

// CategorizationOption is one active entry of a catalog (time codes or work
// types) as offered to the generator.
type CategorizationOption struct {
	ID          string
	Name        string
	Description string
	Keywords    []string
}

type Project struct {
	ID     string
	Name   string
	Active bool
}

type TimeCode struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	Keywords    []string
	Active      bool
}

type WorkType struct {
	ID          string
	Name        string
	Description string
	Active      bool
}
