package contract

// freezeContent picks what ApproveSection freezes: the last user-authored
// message in the transcript, falling back to the current draft content when
// the user never wrote one.
func freezeContent(section Section) string {
	for i := len(section.Messages) - 1; i >= 0; i-- {
		if section.Messages[i].Sender == SenderUser {
			return section.Messages[i].Content
		}
	}
	return section.Content
}

func approve(section Section) Section {
	section.FinalContent = freezeContent(section)
	section.IsApproved = true
	return section
}

func allSectionsApproved(sections []Section) bool {
	for _, section := range sections {
		if !section.IsApproved {
			return false
		}
	}
	return true
}

// ApproveSection freezes a section's final content and flips its approval
// flag, then recomputes the owning chapter's derived flag. Approval is
// one-directional; there is no unapprove. Unknown ids are a silent miss.
func ApproveSection(chapters []Chapter, chapterID, sectionID string) []Chapter {
	next := make([]Chapter, len(chapters))
	copy(next, chapters)
	for ci, chapter := range next {
		if chapter.ID != chapterID {
			continue
		}
		for si, section := range chapter.Sections {
			if section.ID != sectionID {
				continue
			}
			sections := make([]Section, len(chapter.Sections))
			copy(sections, chapter.Sections)
			sections[si] = approve(section)
			chapter.Sections = sections
			chapter.IsApproved = allSectionsApproved(sections)
			next[ci] = chapter
			return next
		}
	}
	return chapters
}

// ApproveAll applies the per-section freeze rule to every section, then
// marks every chapter approved. Section flags first, chapter flags second:
// the chapter flag is derived from its sections.
func ApproveAll(chapters []Chapter) []Chapter {
	next := make([]Chapter, len(chapters))
	for ci, chapter := range chapters {
		sections := make([]Section, len(chapter.Sections))
		for si, section := range chapter.Sections {
			sections[si] = approve(section)
		}
		chapter.Sections = sections
		chapter.IsApproved = true
		next[ci] = chapter
	}
	return next
}

// AllApproved reports whether every chapter in the tree is approved. The
// full-document export is gated on this.
func AllApproved(chapters []Chapter) bool {
	if len(chapters) == 0 {
		return false
	}
	for _, chapter := range chapters {
		if !chapter.IsApproved {
			return false
		}
	}
	return true
}
