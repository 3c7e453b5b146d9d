package experience

// Collection groups experiences that rotate as one playlist slot. The
// "commercials" collection is special-cased by the scheduler.
type Collection struct {
	ID          string   `json:"id" toml:"-"`
	Experiences []string `json:"experiences" toml:"experiences"`
}

// Tag is a browsable label with member experiences.
type Tag struct {
	ID          string   `json:"id" toml:"-"`
	Title       string   `json:"title" toml:"title"`
	Description string   `json:"description,omitempty" toml:"description"`
	Experiences []string `json:"experiences" toml:"experiences"`
}

// Folder groups tags for the dashboard's navigation tree.
type Folder struct {
	ID          string   `json:"id" toml:"-"`
	Title       string   `json:"title" toml:"title"`
	Description string   `json:"description,omitempty" toml:"description"`
	Tags        []string `json:"tags" toml:"tags"`
}

// Groupings is the loaded contents of the grouping files plus the derived
// per-experience membership maps.
type Groupings struct {
	Collections map[string]Collection
	Tags        map[string]Tag
	Folders     map[string]Folder

	ExperienceCollection map[string]string
	ExperienceTags       map[string][]string
	ExperienceFolders    map[string][]string
}

// Resolve fills the derived membership maps for the given experience ids.
func (g *Groupings) Resolve(experienceIDs map[string]struct{}) {
	g.ExperienceCollection = make(map[string]string)
	for _, collection := range g.Collections {
		for _, id := range collection.Experiences {
			g.ExperienceCollection[id] = collection.ID
		}
	}

	g.ExperienceTags = make(map[string][]string)
	for id := range experienceIDs {
		g.ExperienceTags[id] = nil
	}
	for _, tag := range g.Tags {
		for _, id := range tag.Experiences {
			if _, ok := experienceIDs[id]; !ok {
				continue
			}
			g.ExperienceTags[id] = append(g.ExperienceTags[id], tag.ID)
		}
	}

	g.ExperienceFolders = make(map[string][]string)
	for id := range experienceIDs {
		g.ExperienceFolders[id] = nil
	}
	for _, folder := range g.Folders {
		for _, tagID := range folder.Tags {
			tag, ok := g.Tags[tagID]
			if !ok {
				continue
			}
			for _, id := range tag.Experiences {
				if _, ok := experienceIDs[id]; !ok {
					continue
				}
				g.ExperienceFolders[id] = append(g.ExperienceFolders[id], folder.ID)
			}
		}
	}
}

// Apply copies grouping membership onto an experience descriptor.
func (g *Groupings) Apply(e *Experience) {
	e.Collection = g.ExperienceCollection[e.ID]
	e.Tags = g.ExperienceTags[e.ID]
	e.Folders = g.ExperienceFolders[e.ID]
}
