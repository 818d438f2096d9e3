package stage

import "strings"

// Health summarizes whether a stage can run right now.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs a not-ready Health record with detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Collaborator names one dependency a stage needs wired before it can run.
type Collaborator struct {
	Name    string
	Present bool
}

// Need builds a Collaborator from a presence test.
func Need(name string, present bool) Collaborator {
	return Collaborator{Name: name, Present: present}
}

// Require reports the stage ready only when every collaborator is present.
// The detail lists the missing ones in the order given.
func Require(name string, collaborators ...Collaborator) Health {
	var missing []string
	for _, c := range collaborators {
		if !c.Present {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) == 0 {
		return Healthy(name)
	}
	return Unhealthy(name, "missing "+strings.Join(missing, ", "))
}
