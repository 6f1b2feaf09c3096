// Package usermemory provides user memory management with automatic profile extraction.
//
// UserMemory extends the core Memory client with user profile management capabilities:
//   - Automatic profile extraction from conversations
//   - Continuous profile updates
//   - Profile-based search enhancement
//   - Structured topic extraction
//
// The package automatically extracts and maintains user profiles based on
// conversations, enabling personalized memory management.
package usermemory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ob-labs/powermem-go/pkg/core"
	"github.com/ob-labs/powermem-go/pkg/llm"
	"github.com/ob-labs/powermem-go/pkg/user_memory/query_rewrite"
	"github.com/ob-labs/powermem-go/pkg/user_memory/sqlite"
)

// Client is the UserMemory client that extends core Memory with user profile management.
//
// It provides:
//   - All core Memory operations (Add, Search, Get, Update, Delete, etc.)
//   - Automatic user profile extraction from conversations
//   - Profile-based search enhancement
//   - Profile management (Get, Update, Delete)
//
// The client automatically extracts and updates user profiles when adding memories,
// enabling personalized memory management without manual profile maintenance.
//
// Example:
//
//	config := &usermemory.Config{
//	    MemoryConfig: memoryConfig,
//	    ProfileStoreType: "sqlite",
//	    ProfileStoreConfig: &sqlite.Config{
//	        DBPath: "./profiles.db",
//	    },
//	}
//	client, _ := usermemory.NewClient(config)
//	defer client.Close()
//
//	result, _ := client.Add(ctx, conversation,
//	    usermemory.WithUserID("user_001"),
//	)
//	// Profile is automatically extracted and saved
type Client struct {
	// memory is the underlying core Memory client.
	memory *core.Client

	// profileStore stores and manages user profiles.
	profileStore UserProfileStore

	// llm is the LLM provider for profile extraction.
	llm llm.Provider

	// queryRewriter is the query rewriter for enhancing search queries (optional).
	queryRewriter *query_rewrite.QueryRewriter
}

// Config contains configuration for creating a UserMemory client.
type Config struct {
	// MemoryConfig is the configuration for the underlying Memory client.
	MemoryConfig *core.Config

	// ProfileStoreType is the type of profile store ("sqlite", "oceanbase", "postgres").
	ProfileStoreType string

	// ProfileStoreConfig is the configuration for the profile store.
	// The type depends on ProfileStoreType:
	//   - For "sqlite": *sqlite.Config
	//   - For "oceanbase": *oceanbase.Config (future)
	//   - For "postgres": *postgres.Config (future)
	ProfileStoreConfig interface{}

	// QueryRewriteConfig is the configuration for query rewriting (optional).
	// If nil or Enabled is false, query rewriting is disabled.
	QueryRewriteConfig *query_rewrite.Config
}

// NewClient creates a new UserMemory client.
//
// The client is initialized with:
//   - A core Memory client (for memory operations)
//   - A UserProfileStore (for profile management)
//   - An LLM provider (for profile extraction)
//
// Parameters:
//   - cfg: Configuration containing Memory and ProfileStore settings
//   - coreOpts: Optional overrides forwarded to the underlying memory client
//
// Returns a new Client instance, or an error if initialization fails.
//
// Example:
//
//	config := &usermemory.Config{
//	    MemoryConfig: coreConfig,
//	    ProfileStoreType: "sqlite",
//	    ProfileStoreConfig: &sqlite.Config{
//	        DBPath:    "./profiles.db",
//	        TableName: "user_profiles",
//	    },
//	}
//	client, err := usermemory.NewClient(config)
func NewClient(cfg *Config, coreOpts ...core.ClientOption) (*Client, error) {
	memory, err := core.NewClient(cfg.MemoryConfig, coreOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory client: %w", err)
	}

	var profileStore UserProfileStore
	switch strings.ToLower(cfg.ProfileStoreType) {
	case "sqlite":
		sqliteCfg, ok := cfg.ProfileStoreConfig.(*sqlite.Config)
		if !ok {
			return nil, fmt.Errorf("invalid sqlite config type")
		}
		sqliteStore, err := sqlite.NewStore(sqliteCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite profile store: %w", err)
		}
		profileStore = &sqliteStoreAdapter{store: sqliteStore}
	default:
		return nil, fmt.Errorf("unsupported profile store type: %s", cfg.ProfileStoreType)
	}

	// Profile extraction gets its own LLM handle so its traffic does not
	// share rate limits with fact extraction.
	llmProvider, err := core.NewLLMProvider(cfg.MemoryConfig.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM: %w", err)
	}

	var queryRewriter *query_rewrite.QueryRewriter
	if cfg.QueryRewriteConfig != nil && cfg.QueryRewriteConfig.Enabled {
		rewriteLLM := llmProvider
		if cfg.QueryRewriteConfig.ModelOverride != "" {
			overrideLLMConfig := cfg.MemoryConfig.LLM
			overrideLLMConfig.Model = cfg.QueryRewriteConfig.ModelOverride
			overrideLLM, err := core.NewLLMProvider(overrideLLMConfig)
			if err == nil {
				rewriteLLM = overrideLLM
			}
			// Fall back to the default LLM if creation fails.
		}
		queryRewriter = query_rewrite.NewQueryRewriter(rewriteLLM, cfg.QueryRewriteConfig)
	}

	return &Client{
		memory:        memory,
		profileStore:  profileStore,
		llm:           llmProvider,
		queryRewriter: queryRewriter,
	}, nil
}

// NewClientWithProfileStore creates a UserMemory client over an existing
// memory client and profile store. Intended for tests and callers that
// manage provider lifecycles themselves.
func NewClientWithProfileStore(memory *core.Client, store UserProfileStore, provider llm.Provider) *Client {
	return &Client{
		memory:       memory,
		profileStore: store,
		llm:          provider,
	}
}

// Add ingests a conversation and automatically extracts/updates the user profile.
//
// The method:
//  1. Runs the conversation through the core ingest pipeline
//  2. Extracts user profile information from the conversation using LLM
//  3. Updates the user profile in the profile store
//
// Profile extraction can extract:
//   - Unstructured profile content (default)
//   - Structured topics (if ProfileType is "topics")
//
// Parameters:
//   - ctx: Context for cancellation
//   - messages: Conversation messages (string, []map[string]interface{}, or single map)
//   - opts: Optional parameters (UserID, AgentID, ProfileType, etc.)
//
// Returns an AddResult containing the ingest events and profile extraction results.
//
// Example:
//
//	result, err := client.Add(ctx, []map[string]interface{}{
//	    {"role": "user", "content": "I'm Alice, a software engineer."},
//	}, usermemory.WithUserID("user_001"))
func (c *Client) Add(ctx context.Context, messages interface{}, opts ...AddOption) (*AddResult, error) {
	addOpts := applyAddOptions(opts)

	coreOpts := []core.AddOption{
		core.WithUserID(addOpts.UserID),
		core.WithAgentID(addOpts.AgentID),
	}
	if addOpts.RunID != "" {
		coreOpts = append(coreOpts, core.WithRunID(addOpts.RunID))
	}
	if len(addOpts.Metadata) > 0 {
		coreOpts = append(coreOpts, core.WithMetadata(addOpts.Metadata))
	}
	if len(addOpts.Filters) > 0 {
		coreOpts = append(coreOpts, core.WithFiltersForAdd(addOpts.Filters))
	}
	if addOpts.Scope != "" {
		coreOpts = append(coreOpts, core.WithScope(addOpts.Scope))
	}
	if addOpts.MemoryType != "" {
		coreOpts = append(coreOpts, core.WithMemoryType(addOpts.MemoryType))
	}
	if addOpts.Prompt != "" {
		coreOpts = append(coreOpts, core.WithPrompt(addOpts.Prompt))
	}
	coreOpts = append(coreOpts, core.WithInfer(addOpts.Infer))

	ingest, err := c.memory.Add(ctx, messages, coreOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to add memory: %w", err)
	}

	var profileContent *string
	var topics map[string]interface{}

	filteredMessages := c.filterMessagesByRoles(messages, addOpts.IncludeRoles, addOpts.ExcludeRoles)

	if addOpts.ProfileType == "topics" {
		extractedTopics, err := c.extractTopics(ctx, filteredMessages, addOpts.UserID, addOpts.CustomTopics, addOpts.StrictMode)
		if err != nil {
			return nil, fmt.Errorf("failed to extract topics: %w", err)
		}
		if extractedTopics != nil {
			topics = extractedTopics
		}
	} else {
		extractedContent, err := c.extractProfile(ctx, filteredMessages, addOpts.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to extract profile: %w", err)
		}
		if extractedContent != "" {
			profileContent = &extractedContent
		}
	}

	var profileExtracted bool
	if profileContent != nil || topics != nil {
		_, err = c.profileStore.SaveProfile(ctx, addOpts.UserID, profileContent, topics)
		if err != nil {
			return nil, fmt.Errorf("failed to save profile: %w", err)
		}
		profileExtracted = true
	}

	return &AddResult{
		Ingest:           ingest,
		ProfileExtracted: profileExtracted,
		ProfileContent:   profileContent,
		Topics:           topics,
	}, nil
}

// SearchResult contains the result of a search operation.
type SearchResult struct {
	// Memories is the list of matching memories.
	Memories []*core.Memory

	// Warnings lists stores that failed during retrieval fan-out.
	Warnings []string

	// RewrittenQuery is the query actually executed when query rewriting
	// fired; empty when the original query was used as-is.
	RewrittenQuery string

	// ProfileContent is the user profile content (if AddProfile was true).
	ProfileContent *string

	// Topics is the user profile topics (if AddProfile was true).
	Topics map[string]interface{}
}

// Search searches for memories, optionally enhanced with user profile information.
//
// The method supports:
//   - Query rewriting based on user profiles (if query rewrite is enabled)
//   - Adding user profile to search results (if AddProfile is true)
//
// Parameters:
//   - ctx: Context for cancellation
//   - query: Search query string
//   - opts: Optional parameters (UserID, AgentID, Limit, AddProfile)
//
// Returns a SearchResult containing matching memories and optionally user profile.
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResult, error) {
	searchOpts := applySearchOptions(opts)

	effectiveQuery := query
	rewritten := ""
	if c.queryRewriter != nil && searchOpts.UserID != "" {
		profile, err := c.profileStore.GetProfileByUserID(ctx, searchOpts.UserID)
		if err == nil && profile != nil && profile.ProfileContent != "" {
			rewriteResult := c.queryRewriter.Rewrite(ctx, query, profile.ProfileContent)
			effectiveQuery = rewriteResult.RewrittenQuery
			if rewriteResult.IsRewritten {
				rewritten = rewriteResult.RewrittenQuery
			}
		}
	}

	var searchOptions []core.SearchOption
	if searchOpts.UserID != "" {
		searchOptions = append(searchOptions, core.WithUserIDForSearch(searchOpts.UserID))
	}
	if searchOpts.AgentID != "" {
		searchOptions = append(searchOptions, core.WithAgentIDForSearch(searchOpts.AgentID))
	}
	if searchOpts.Limit > 0 {
		searchOptions = append(searchOptions, core.WithLimit(searchOpts.Limit))
	}

	coreResult, err := c.memory.Search(ctx, effectiveQuery, searchOptions...)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Memories:       coreResult.Memories,
		Warnings:       coreResult.Warnings,
		RewrittenQuery: rewritten,
	}

	if searchOpts.AddProfile && searchOpts.UserID != "" {
		profile, err := c.profileStore.GetProfileByUserID(ctx, searchOpts.UserID)
		if err == nil && profile != nil {
			if profile.ProfileContent != "" {
				result.ProfileContent = &profile.ProfileContent
			}
			if len(profile.Topics) > 0 {
				result.Topics = profile.Topics
			}
		}
	}

	return result, nil
}

// GetProfile retrieves the user profile for a given user ID.
//
// Parameters:
//   - ctx: Context for cancellation
//   - userID: User identifier
//
// Returns the UserProfile if found, or nil if not found.
func (c *Client) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	return c.profileStore.GetProfileByUserID(ctx, userID)
}

// GetProfiles retrieves a list of user profiles with optional filtering.
//
// Profiles can be filtered by:
//   - UserID
//   - MainTopic, SubTopic, TopicValue (for structured topics)
//   - Limit and Offset (for pagination)
//
// Parameters:
//   - ctx: Context for cancellation
//   - opts: Filtering and pagination options
//
// Returns a list of matching user profiles.
func (c *Client) GetProfiles(ctx context.Context, opts *GetProfilesOptions) ([]*UserProfile, error) {
	return c.profileStore.GetProfiles(ctx, opts)
}

// DeleteProfile deletes a user profile by profile ID.
//
// Parameters:
//   - ctx: Context for cancellation
//   - profileID: Profile ID to delete
//
// Returns an error if deletion fails.
func (c *Client) DeleteProfile(ctx context.Context, profileID int64) error {
	return c.profileStore.DeleteProfile(ctx, profileID)
}

// DeleteProfileByUserID deletes a user profile by user ID.
//
// This is a convenience method that first retrieves the profile by user ID,
// then deletes it by profile ID.
//
// Parameters:
//   - ctx: Context for cancellation
//   - userID: User identifier
//
// Returns an error if the profile is not found or deletion fails.
func (c *Client) DeleteProfileByUserID(ctx context.Context, userID string) error {
	profile, err := c.profileStore.GetProfileByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get profile: %w", err)
	}
	if profile == nil {
		return nil // Profile does not exist, return success directly
	}
	return c.profileStore.DeleteProfile(ctx, profile.ID)
}

// Get retrieves a single memory by ID.
//
// This method wraps the core Memory Get operation, forwarding access
// control parameters when set.
//
// Parameters:
//   - ctx: Context for cancellation
//   - memoryID: Memory ID
//   - opts: Optional access parameters (UserID, AgentID)
//
// Returns the Memory if found, or an error if not found.
func (c *Client) Get(ctx context.Context, memoryID int64, opts ...GetOption) (*core.Memory, error) {
	getOpts := applyGetOptions(opts)

	var coreOpts []core.GetOption
	if getOpts.UserID != "" {
		coreOpts = append(coreOpts, core.WithUserIDForGet(getOpts.UserID))
	}
	if getOpts.AgentID != "" {
		coreOpts = append(coreOpts, core.WithAgentIDForGet(getOpts.AgentID))
	}
	return c.memory.Get(ctx, memoryID, coreOpts...)
}

// Update updates an existing memory's content.
//
// This method wraps the core Memory Update operation, forwarding access
// control parameters and metadata replacement when set.
//
// Parameters:
//   - ctx: Context for cancellation
//   - memoryID: Memory ID to update
//   - content: New content for the memory
//   - opts: Optional parameters (UserID, AgentID, Metadata)
//
// Returns the updated Memory, or an error if update fails.
func (c *Client) Update(ctx context.Context, memoryID int64, content string, opts ...UpdateOption) (*core.Memory, error) {
	updateOpts := applyUpdateOptions(opts)

	var coreOpts []core.UpdateOption
	if updateOpts.UserID != "" {
		coreOpts = append(coreOpts, core.WithUserIDForUpdate(updateOpts.UserID))
	}
	if updateOpts.AgentID != "" {
		coreOpts = append(coreOpts, core.WithAgentIDForUpdate(updateOpts.AgentID))
	}
	if updateOpts.Metadata != nil {
		coreOpts = append(coreOpts, core.WithMetadataForUpdate(updateOpts.Metadata))
	}
	return c.memory.Update(ctx, memoryID, content, coreOpts...)
}

// Delete deletes a memory by ID, optionally also deleting the user profile.
//
// This method wraps the core Memory Delete operation, with the additional
// option to delete the associated user profile.
//
// Parameters:
//   - ctx: Context for cancellation
//   - memoryID: Memory ID to delete
//   - opts: Optional parameters (UserID, AgentID, DeleteProfile)
//
// If DeleteProfile is true and UserID is provided, the user profile is also deleted.
//
// Returns an error if deletion fails.
func (c *Client) Delete(ctx context.Context, memoryID int64, opts ...DeleteOption) error {
	deleteOpts := applyDeleteOptions(opts)

	var coreOpts []core.DeleteOption
	if deleteOpts.UserID != "" {
		coreOpts = append(coreOpts, core.WithUserIDForDelete(deleteOpts.UserID))
	}
	if deleteOpts.AgentID != "" {
		coreOpts = append(coreOpts, core.WithAgentIDForDelete(deleteOpts.AgentID))
	}
	if err := c.memory.Delete(ctx, memoryID, coreOpts...); err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}

	if deleteOpts.DeleteProfile && deleteOpts.UserID != "" {
		profile, err := c.profileStore.GetProfileByUserID(ctx, deleteOpts.UserID)
		if err == nil && profile != nil {
			if err := c.profileStore.DeleteProfile(ctx, profile.ID); err != nil {
				log.Warn().Err(err).Str("user_id", deleteOpts.UserID).Msg("profile deletion failed")
			}
		}
	}

	return nil
}

// GetAll retrieves all memories with optional filtering and pagination.
//
// This method wraps the core Memory GetAll operation.
//
// Parameters:
//   - ctx: Context for cancellation
//   - opts: Optional parameters (UserID, AgentID, RunID, Limit, Offset, Filters)
//
// Returns a list of memories matching the filters.
func (c *Client) GetAll(ctx context.Context, opts ...GetAllOption) ([]*core.Memory, error) {
	getAllOpts := applyGetAllOptions(opts)

	var getAllOptions []core.GetAllOption
	if getAllOpts.UserID != "" {
		getAllOptions = append(getAllOptions, core.WithUserIDForGetAll(getAllOpts.UserID))
	}
	if getAllOpts.AgentID != "" {
		getAllOptions = append(getAllOptions, core.WithAgentIDForGetAll(getAllOpts.AgentID))
	}
	if getAllOpts.RunID != "" {
		getAllOptions = append(getAllOptions, core.WithRunIDForGetAll(getAllOpts.RunID))
	}
	if len(getAllOpts.Filters) > 0 {
		getAllOptions = append(getAllOptions, core.WithFiltersForGetAll(getAllOpts.Filters))
	}
	if getAllOpts.Limit > 0 {
		getAllOptions = append(getAllOptions, core.WithLimitForGetAll(getAllOpts.Limit))
	}
	if getAllOpts.Offset > 0 {
		getAllOptions = append(getAllOptions, core.WithOffset(getAllOpts.Offset))
	}

	return c.memory.GetAll(ctx, getAllOptions...)
}

// DeleteAll deletes all memories matching the filters, optionally also deleting user profiles.
//
// This method wraps the core Memory DeleteAll operation, with the additional
// option to delete associated user profiles.
//
// Parameters:
//   - ctx: Context for cancellation
//   - opts: Optional parameters (UserID, AgentID, RunID, DeleteProfile)
//
// If DeleteProfile is true and UserID is provided, the user profile is also deleted.
//
// Returns an error if deletion fails.
func (c *Client) DeleteAll(ctx context.Context, opts ...DeleteAllOption) error {
	deleteAllOpts := applyDeleteAllOptions(opts)

	var deleteAllOptions []core.DeleteAllOption
	if deleteAllOpts.UserID != "" {
		deleteAllOptions = append(deleteAllOptions, core.WithUserIDForDeleteAll(deleteAllOpts.UserID))
	}
	if deleteAllOpts.AgentID != "" {
		deleteAllOptions = append(deleteAllOptions, core.WithAgentIDForDeleteAll(deleteAllOpts.AgentID))
	}
	if deleteAllOpts.RunID != "" {
		deleteAllOptions = append(deleteAllOptions, core.WithRunIDForDeleteAll(deleteAllOpts.RunID))
	}

	if err := c.memory.DeleteAll(ctx, deleteAllOptions...); err != nil {
		return fmt.Errorf("failed to delete all memories: %w", err)
	}

	if deleteAllOpts.DeleteProfile && deleteAllOpts.UserID != "" {
		profile, err := c.profileStore.GetProfileByUserID(ctx, deleteAllOpts.UserID)
		if err == nil && profile != nil {
			if err := c.profileStore.DeleteProfile(ctx, profile.ID); err != nil {
				log.Warn().Err(err).Str("user_id", deleteAllOpts.UserID).Msg("profile deletion failed")
			}
		}
	}

	return nil
}

// Reset deletes every memory in every store.
//
// Note: This method deletes all memories but does not delete user profiles.
// To delete profiles as well, use DeleteAll with DeleteProfile option.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns an error if reset fails.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.memory.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset memories: %w", err)
	}
	return nil
}

// extractProfile extracts user profile (unstructured).
func (c *Client) extractProfile(ctx context.Context, messages interface{}, userID string) (string, error) {
	conversationText := c.formatMessages(messages)
	if conversationText == "" {
		return "", nil
	}

	existingProfile, _ := c.profileStore.GetProfileByUserID(ctx, userID)
	var existingContent string
	if existingProfile != nil && existingProfile.ProfileContent != "" {
		existingContent = existingProfile.ProfileContent
	}

	systemPrompt := getUserProfileExtractionPrompt()
	userMessage := buildProfileExtractionUserMessage(conversationText, existingContent)

	response, err := c.llm.GenerateWithMessages(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate profile: %w", err)
	}

	profileContent := strings.TrimSpace(response)
	if profileContent == "" || strings.ToLower(profileContent) == "none" || strings.ToLower(profileContent) == "no profile information" {
		return "", nil
	}

	return profileContent, nil
}

// extractTopics extracts structured topics from a conversation.
//
// When customTopics is a JSON object, its keys define the topic structure
// to extract. In strict mode, topics outside the custom structure are
// dropped from the result.
func (c *Client) extractTopics(ctx context.Context, messages interface{}, userID string, customTopics string, strictMode bool) (map[string]interface{}, error) {
	conversationText := c.formatMessages(messages)
	if conversationText == "" {
		return nil, nil
	}

	var topicSchema map[string]interface{}
	if customTopics != "" {
		if err := json.Unmarshal([]byte(customTopics), &topicSchema); err != nil {
			return nil, fmt.Errorf("invalid custom topics JSON: %w", err)
		}
	}

	existingProfile, _ := c.profileStore.GetProfileByUserID(ctx, userID)
	var existingTopics map[string]interface{}
	if existingProfile != nil && len(existingProfile.Topics) > 0 {
		existingTopics = existingProfile.Topics
	}

	systemPrompt := getTopicExtractionPrompt(topicSchema, strictMode)
	userMessage := buildTopicExtractionUserMessage(conversationText, existingTopics)

	response, err := c.llm.GenerateWithMessages(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage},
	}, llm.WithJSONResponse())
	if err != nil {
		return nil, fmt.Errorf("failed to generate topics: %w", err)
	}

	cleaned := stripCodeFence(response)
	if cleaned == "" || cleaned == "{}" {
		return nil, nil
	}

	var topics map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &topics); err != nil {
		return nil, fmt.Errorf("failed to parse topics response: %w", err)
	}
	if len(topics) == 0 {
		return nil, nil
	}

	if strictMode && len(topicSchema) > 0 {
		for key := range topics {
			if _, ok := topicSchema[key]; !ok {
				delete(topics, key)
			}
		}
		if len(topics) == 0 {
			return nil, nil
		}
	}

	return topics, nil
}

// stripCodeFence removes a surrounding markdown code fence from an LLM
// response, if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// sqliteStoreAdapter is an adapter that adapts sqlite.Store to usermemory.UserProfileStore.
type sqliteStoreAdapter struct {
	store *sqlite.Store
}

func (a *sqliteStoreAdapter) SaveProfile(ctx context.Context, userID string, profileContent *string, topics map[string]interface{}) (int64, error) {
	return a.store.SaveProfile(ctx, userID, profileContent, topics)
}

func (a *sqliteStoreAdapter) GetProfileByUserID(ctx context.Context, userID string) (*UserProfile, error) {
	sqliteProfile, err := a.store.GetProfileByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sqliteProfile == nil {
		return nil, nil
	}
	return &UserProfile{
		ID:             sqliteProfile.ID,
		UserID:         sqliteProfile.UserID,
		ProfileContent: sqliteProfile.ProfileContent,
		Topics:         sqliteProfile.Topics,
		CreatedAt:      sqliteProfile.CreatedAt,
		UpdatedAt:      sqliteProfile.UpdatedAt,
	}, nil
}

func (a *sqliteStoreAdapter) GetProfiles(ctx context.Context, opts *GetProfilesOptions) ([]*UserProfile, error) {
	sqliteOpts := &sqlite.GetProfilesOptions{
		UserID:     opts.UserID,
		MainTopic:  opts.MainTopic,
		SubTopic:   opts.SubTopic,
		TopicValue: opts.TopicValue,
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}
	sqliteProfiles, err := a.store.GetProfiles(ctx, sqliteOpts)
	if err != nil {
		return nil, err
	}
	profiles := make([]*UserProfile, len(sqliteProfiles))
	for i, p := range sqliteProfiles {
		profiles[i] = &UserProfile{
			ID:             p.ID,
			UserID:         p.UserID,
			ProfileContent: p.ProfileContent,
			Topics:         p.Topics,
			CreatedAt:      p.CreatedAt,
			UpdatedAt:      p.UpdatedAt,
		}
	}
	return profiles, nil
}

func (a *sqliteStoreAdapter) DeleteProfile(ctx context.Context, profileID int64) error {
	return a.store.DeleteProfile(ctx, profileID)
}

func (a *sqliteStoreAdapter) Close() error {
	return a.store.Close()
}

// filterMessagesByRoles filters messages by include/exclude roles.
//
// Only list-of-map conversations are filtered; plain strings pass through
// untouched.
func (c *Client) filterMessagesByRoles(messages interface{}, includeRoles []string, excludeRoles []string) interface{} {
	if len(includeRoles) == 0 && len(excludeRoles) == 0 {
		return messages
	}

	var messageList []map[string]interface{}
	switch v := messages.(type) {
	case string:
		return v
	case map[string]interface{}:
		messageList = []map[string]interface{}{v}
	case []map[string]interface{}:
		messageList = v
	case []interface{}:
		messageList = make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if msg, ok := item.(map[string]interface{}); ok {
				messageList = append(messageList, msg)
			}
		}
	default:
		return messages
	}

	filtered := make([]map[string]interface{}, 0)
	for _, msg := range messageList {
		role, ok := msg["role"].(string)
		if !ok {
			continue
		}

		if len(includeRoles) > 0 {
			include := false
			for _, r := range includeRoles {
				if r == role {
					include = true
					break
				}
			}
			if !include {
				continue
			}
		}

		if len(excludeRoles) > 0 {
			exclude := false
			for _, r := range excludeRoles {
				if r == role {
					exclude = true
					break
				}
			}
			if exclude {
				continue
			}
		}

		filtered = append(filtered, msg)
	}

	if len(filtered) == 0 {
		return []map[string]interface{}{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return filtered
}

// formatMessages formats messages as text.
func (c *Client) formatMessages(messages interface{}) string {
	switch v := messages.(type) {
	case string:
		return v
	case map[string]interface{}:
		role, _ := v["role"].(string)
		content, _ := v["content"].(string)
		if role != "" && content != "" {
			return fmt.Sprintf("%s: %s", role, content)
		}
		return content
	case []map[string]interface{}:
		var parts []string
		for _, msg := range v {
			role, _ := msg["role"].(string)
			content, _ := msg["content"].(string)
			if role != "" && content != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", role, content))
			}
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprintf("%v", messages)
	}
}

// Close closes the client.
func (c *Client) Close() error {
	var errs []error

	if c.memory != nil {
		if err := c.memory.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.profileStore != nil {
		if err := c.profileStore.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}

	return nil
}

// getUserProfileExtractionPrompt returns the user profile extraction prompt.
func getUserProfileExtractionPrompt() string {
	return `You are a user profile extraction specialist. Your task is to analyze conversations and extract user profile information.

[Instructions]:
1. Review the current user profile if provided below
2. Analyze the new conversation carefully to identify any new or updated user-related information
3. Extract only factual information explicitly mentioned in the conversation
4. Update the profile by:
   - Adding new information that is not in the current profile
   - Updating existing information if the conversation provides more recent or different details
   - Keeping unchanged information that is still valid
5. Combine all information into a coherent, updated profile description
6. If no relevant profile information is found in the conversation, return the current profile as-is
7. Write the profile in natural language, not as structured data
8. Focus on current state and characteristics of the user
9. If no user profile information can be extracted from the conversation at all, return an empty string ""
10. The final extracted profile description must not exceed 1,000 characters.`
}

// buildProfileExtractionUserMessage builds the user message for profile extraction.
func buildProfileExtractionUserMessage(conversationText, existingProfile string) string {
	if existingProfile != "" {
		return fmt.Sprintf(`Current user profile:
%s

New conversation:
%s

Please update the user profile based on the new conversation.`, existingProfile, conversationText)
	}
	return fmt.Sprintf(`New conversation:
%s

Please extract user profile information from this conversation.`, conversationText)
}

// getTopicExtractionPrompt returns the system prompt for structured topic
// extraction, optionally constrained to a custom topic schema.
func getTopicExtractionPrompt(topicSchema map[string]interface{}, strictMode bool) string {
	base := `You are a user profile extraction specialist. Your task is to analyze conversations and extract structured user characteristics as topics.

[Instructions]:
1. Analyze the conversation and extract user characteristics as a flat JSON object
2. Keys are topic names (e.g. "occupation", "interests", "location")
3. Values are strings, or arrays of strings for multi-valued topics
4. Extract only factual information explicitly mentioned in the conversation
5. Merge with the existing topics when provided: keep valid existing values, update changed ones
6. If nothing can be extracted, return an empty JSON object {}
7. Return only the JSON object, no explanations`

	if len(topicSchema) > 0 {
		keys := make([]string, 0, len(topicSchema))
		for k := range topicSchema {
			keys = append(keys, k)
		}
		schemaJSON, _ := json.Marshal(keys)
		if strictMode {
			base += fmt.Sprintf("\n8. Extract ONLY these topics, ignore everything else: %s", schemaJSON)
		} else {
			base += fmt.Sprintf("\n8. Prioritize these topics, but other clear characteristics may be included: %s", schemaJSON)
		}
	}
	return base
}

// buildTopicExtractionUserMessage builds the user message for topic extraction.
func buildTopicExtractionUserMessage(conversationText string, existingTopics map[string]interface{}) string {
	if len(existingTopics) > 0 {
		existing, _ := json.Marshal(existingTopics)
		return fmt.Sprintf(`Current topics:
%s

New conversation:
%s

Please update the topics based on the new conversation.`, existing, conversationText)
	}
	return fmt.Sprintf(`New conversation:
%s

Please extract user topics from this conversation.`, conversationText)
}
