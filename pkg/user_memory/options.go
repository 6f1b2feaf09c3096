// Package usermemory provides user memory management with automatic profile extraction.
package usermemory

import "github.com/ob-labs/powermem-go/pkg/core"

// AddResult reports what one Add call did: the ingest events from the
// memory pipeline plus the profile extraction outcome.
type AddResult struct {
	// Ingest reports the per-fact events produced by the memory pipeline.
	Ingest *core.AddResult

	// ProfileExtracted is true when a profile was extracted and saved.
	ProfileExtracted bool

	// ProfileContent is the extracted prose profile, when content mode ran.
	ProfileContent *string

	// Topics is the extracted topic map, when topics mode ran.
	Topics map[string]interface{}
}

// AddOptions configures Add.
type AddOptions struct {
	// UserID identifies the user.
	UserID string

	// AgentID identifies the agent.
	AgentID string

	// RunID identifies the run/session.
	RunID string

	// Metadata is stored with the created memories.
	Metadata map[string]interface{}

	// Filters are additional metadata filters stored with the memories.
	Filters map[string]interface{}

	// Scope is the memory visibility scope.
	Scope core.MemoryScope

	// MemoryType categorizes the memories ("conversation", "fact", ...).
	MemoryType string

	// Prompt overrides the fact-extraction prompt.
	Prompt string

	// Infer routes the content through the intelligent ingest pipeline.
	Infer bool

	// ProfileType selects profile extraction: "content" (prose, default)
	// or "topics" (structured).
	ProfileType string

	// CustomTopics is a JSON object whose keys constrain topic extraction.
	CustomTopics string

	// StrictMode drops extracted topics outside the CustomTopics schema.
	StrictMode bool

	// IncludeRoles limits profile extraction to these message roles.
	IncludeRoles []string

	// ExcludeRoles removes these message roles from profile extraction.
	ExcludeRoles []string
}

// AddOption configures one aspect of an Add call.
type AddOption func(*AddOptions)

// WithUserID sets the user id.
func WithUserID(userID string) AddOption {
	return func(opts *AddOptions) {
		opts.UserID = userID
	}
}

// WithAgentID sets the agent id.
func WithAgentID(agentID string) AddOption {
	return func(opts *AddOptions) {
		opts.AgentID = agentID
	}
}

// WithProfileType selects "content" (default) or "topics" extraction.
func WithProfileType(profileType string) AddOption {
	return func(opts *AddOptions) {
		opts.ProfileType = profileType
	}
}

// WithCustomTopics constrains topic extraction to a JSON-defined schema.
//
// Example:
//
//	result, _ := client.Add(ctx, messages,
//	    usermemory.WithProfileType("topics"),
//	    usermemory.WithCustomTopics(`{"occupation": true, "interests": true}`),
//	)
func WithCustomTopics(customTopics string) AddOption {
	return func(opts *AddOptions) {
		opts.CustomTopics = customTopics
	}
}

// WithStrictMode drops topics outside the custom schema when enabled.
func WithStrictMode(strictMode bool) AddOption {
	return func(opts *AddOptions) {
		opts.StrictMode = strictMode
	}
}

// WithRunID sets the run/session id.
func WithRunID(runID string) AddOption {
	return func(opts *AddOptions) {
		opts.RunID = runID
	}
}

// WithMetadata attaches metadata to the created memories.
func WithMetadata(metadata map[string]interface{}) AddOption {
	return func(opts *AddOptions) {
		opts.Metadata = metadata
	}
}

// WithFilters attaches metadata filters to the created memories.
func WithFilters(filters map[string]interface{}) AddOption {
	return func(opts *AddOptions) {
		opts.Filters = filters
	}
}

// WithScope sets the visibility scope ("private", "agent_group", "global").
func WithScope(scope string) AddOption {
	return func(opts *AddOptions) {
		opts.Scope = core.MemoryScope(scope)
	}
}

// WithMemoryType categorizes the created memories.
func WithMemoryType(memoryType string) AddOption {
	return func(opts *AddOptions) {
		opts.MemoryType = memoryType
	}
}

// WithPrompt overrides the fact-extraction prompt.
func WithPrompt(prompt string) AddOption {
	return func(opts *AddOptions) {
		opts.Prompt = prompt
	}
}

// WithInfer toggles the intelligent ingest pipeline (default on).
func WithInfer(infer bool) AddOption {
	return func(opts *AddOptions) {
		opts.Infer = infer
	}
}

// WithIncludeRoles limits profile extraction to the given message roles.
func WithIncludeRoles(roles []string) AddOption {
	return func(opts *AddOptions) {
		opts.IncludeRoles = roles
	}
}

// WithExcludeRoles removes the given message roles from profile extraction.
func WithExcludeRoles(roles []string) AddOption {
	return func(opts *AddOptions) {
		opts.ExcludeRoles = roles
	}
}

func applyAddOptions(opts []AddOption) *AddOptions {
	options := &AddOptions{
		ProfileType: "content",
		Infer:       true,
		Metadata:    make(map[string]interface{}),
		Filters:     make(map[string]interface{}),
		// Profiles describe the user, so extraction defaults to the
		// user's own messages.
		IncludeRoles: []string{"user"},
		ExcludeRoles: []string{"assistant"},
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// SearchOptions configures Search.
type SearchOptions struct {
	// UserID scopes the search to one user.
	UserID string

	// AgentID scopes the search to one agent.
	AgentID string

	// Limit caps the number of results.
	Limit int

	// AddProfile attaches the user's profile to the search result.
	AddProfile bool
}

// SearchOption configures one aspect of a Search call.
type SearchOption func(*SearchOptions)

// WithSearchUserID scopes the search to one user.
func WithSearchUserID(userID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.UserID = userID
	}
}

// WithSearchAgentID scopes the search to one agent.
func WithSearchAgentID(agentID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.AgentID = agentID
	}
}

// WithSearchLimit caps the number of results.
func WithSearchLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithAddProfile attaches the user's profile (content and topics) to the
// search result when the search carries a user id.
func WithAddProfile(addProfile bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.AddProfile = addProfile
	}
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{
		Limit: 10,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// GetOptions carries access-control identity for Get.
type GetOptions struct {
	// UserID is the caller's user identity.
	UserID string

	// AgentID is the caller's agent identity.
	AgentID string
}

// GetOption configures one aspect of a Get call.
type GetOption func(*GetOptions)

// WithGetUserID sets the caller's user identity.
func WithGetUserID(userID string) GetOption {
	return func(opts *GetOptions) {
		opts.UserID = userID
	}
}

// WithGetAgentID sets the caller's agent identity.
func WithGetAgentID(agentID string) GetOption {
	return func(opts *GetOptions) {
		opts.AgentID = agentID
	}
}

func applyGetOptions(opts []GetOption) *GetOptions {
	options := &GetOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	// UserID is the caller's user identity.
	UserID string

	// AgentID is the caller's agent identity.
	AgentID string

	// Metadata replaces the stored metadata when non-nil.
	Metadata map[string]interface{}
}

// UpdateOption configures one aspect of an Update call.
type UpdateOption func(*UpdateOptions)

// WithUpdateUserID sets the caller's user identity.
func WithUpdateUserID(userID string) UpdateOption {
	return func(opts *UpdateOptions) {
		opts.UserID = userID
	}
}

// WithUpdateAgentID sets the caller's agent identity.
func WithUpdateAgentID(agentID string) UpdateOption {
	return func(opts *UpdateOptions) {
		opts.AgentID = agentID
	}
}

// WithUpdateMetadata replaces the memory's stored metadata.
func WithUpdateMetadata(metadata map[string]interface{}) UpdateOption {
	return func(opts *UpdateOptions) {
		opts.Metadata = metadata
	}
}

func applyUpdateOptions(opts []UpdateOption) *UpdateOptions {
	options := &UpdateOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	// UserID is the caller's user identity.
	UserID string

	// AgentID is the caller's agent identity.
	AgentID string

	// DeleteProfile also removes the user's profile.
	DeleteProfile bool
}

// DeleteOption configures one aspect of a Delete call.
type DeleteOption func(*DeleteOptions)

// WithDeleteUserID sets the caller's user identity.
func WithDeleteUserID(userID string) DeleteOption {
	return func(opts *DeleteOptions) {
		opts.UserID = userID
	}
}

// WithDeleteAgentID sets the caller's agent identity.
func WithDeleteAgentID(agentID string) DeleteOption {
	return func(opts *DeleteOptions) {
		opts.AgentID = agentID
	}
}

// WithDeleteProfile also removes the user's profile when the delete
// carries a user id.
func WithDeleteProfile(deleteProfile bool) DeleteOption {
	return func(opts *DeleteOptions) {
		opts.DeleteProfile = deleteProfile
	}
}

func applyDeleteOptions(opts []DeleteOption) *DeleteOptions {
	options := &DeleteOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// GetAllOptions configures GetAll.
type GetAllOptions struct {
	// UserID restricts the listing to one user.
	UserID string

	// AgentID restricts the listing to one agent.
	AgentID string

	// RunID restricts the listing to one run.
	RunID string

	// Limit caps the number of memories returned.
	Limit int

	// Offset skips that many memories, for pagination.
	Offset int

	// Filters narrows the listing by metadata.
	Filters map[string]interface{}
}

// GetAllOption configures one aspect of a GetAll call.
type GetAllOption func(*GetAllOptions)

// WithGetAllUserID restricts the listing to one user.
func WithGetAllUserID(userID string) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.UserID = userID
	}
}

// WithGetAllAgentID restricts the listing to one agent.
func WithGetAllAgentID(agentID string) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.AgentID = agentID
	}
}

// WithGetAllRunID restricts the listing to one run.
func WithGetAllRunID(runID string) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.RunID = runID
	}
}

// WithGetAllLimit caps the number of memories returned.
func WithGetAllLimit(limit int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Limit = limit
	}
}

// WithGetAllOffset skips that many memories, for pagination.
func WithGetAllOffset(offset int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Offset = offset
	}
}

// WithGetAllFilters narrows the listing by metadata.
func WithGetAllFilters(filters map[string]interface{}) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Filters = filters
	}
}

func applyGetAllOptions(opts []GetAllOption) *GetAllOptions {
	options := &GetAllOptions{
		Limit:   100,
		Filters: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// DeleteAllOptions configures DeleteAll.
type DeleteAllOptions struct {
	// UserID restricts the deletion to one user.
	UserID string

	// AgentID restricts the deletion to one agent.
	AgentID string

	// RunID restricts the deletion to one run.
	RunID string

	// DeleteProfile also removes the user's profile.
	DeleteProfile bool
}

// DeleteAllOption configures one aspect of a DeleteAll call.
type DeleteAllOption func(*DeleteAllOptions)

// WithDeleteAllUserID restricts the deletion to one user.
func WithDeleteAllUserID(userID string) DeleteAllOption {
	return func(opts *DeleteAllOptions) {
		opts.UserID = userID
	}
}

// WithDeleteAllAgentID restricts the deletion to one agent.
func WithDeleteAllAgentID(agentID string) DeleteAllOption {
	return func(opts *DeleteAllOptions) {
		opts.AgentID = agentID
	}
}

// WithDeleteAllRunID restricts the deletion to one run.
func WithDeleteAllRunID(runID string) DeleteAllOption {
	return func(opts *DeleteAllOptions) {
		opts.RunID = runID
	}
}

// WithDeleteAllProfile also removes the user's profile when the deletion
// carries a user id.
func WithDeleteAllProfile(deleteProfile bool) DeleteAllOption {
	return func(opts *DeleteAllOptions) {
		opts.DeleteProfile = deleteProfile
	}
}

func applyDeleteAllOptions(opts []DeleteAllOption) *DeleteAllOptions {
	options := &DeleteAllOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
