package domain

// CallerInfo is the directory collaborator's view of a caller. Read-only
// input; the engine never writes it back.
type CallerInfo struct {
	Name         string
	CompanyName  string
	PhoneNumbers []string

	// ProjectIDs are the caller's routing destinations in the ticket backend.
	// A non-empty list marks the caller as a known contact.
	ProjectIDs []string

	IsCompany bool
}

// DisplayTitle composes the ticket title for this caller: "company - name"
// when both are present, otherwise whichever part is available.
func (c CallerInfo) DisplayTitle() string {
	switch {
	case c.CompanyName != "" && c.Name != "":
		return c.CompanyName + " - " + c.Name
	case c.CompanyName != "":
		return c.CompanyName
	default:
		return c.Name
	}
}
