package conversation

import "encoding/json"

const threadsQuery = `query {
  aiConversationThreads(conversationType: DUO_CHAT) {
    nodes {
      id
      conversationType
      createdAt
      title
      lastUpdatedAt
    }
  }
}`

const messagesQuery = `query($threadId: AiConversationThreadID!) {
  aiMessages(threadId: $threadId) {
    nodes {
      id
      requestId
      content
      role
      timestamp
      chunkId
      errors
    }
  }
}`

const aiActionMutation = `mutation($input: AiActionInput!) {
  aiAction(input: $input) {
    requestId
    errors
    threadId
  }
}`

const deleteThreadMutation = `mutation deleteConversationThread($input: DeleteConversationThreadInput!) {
  deleteConversationThread(input: $input) {
    success
    errors
  }
}`

const currentUserQuery = `query {
  currentUser {
    id
    username
    name
    duoChatAvailable
    duoChatAvailableFeatures
  }
}`

const contextPresetsQuery = `query getAiChatContextPresets($resourceId: AiModelID, $projectId: ProjectID, $url: String, $questionCount: Int) {
  aiChatContextPresets(
    resourceId: $resourceId
    projectId: $projectId
    url: $url
    questionCount: $questionCount
  ) {
    questions
    __typename
  }
}`

const slashCommandsQuery = `query($url: String!) {
  aiSlashCommands(url: $url) {
    name
    description
  }
}`

const projectIDQuery = `query($fullPath: ID!) {
  project(fullPath: $fullPath) {
    id
  }
}`

const completionSubscription = `subscription aiCompletionResponse($userId: UserID, $clientSubscriptionId: String, $aiAction: AiAction) {
  aiCompletionResponse(
    userId: $userId
    aiAction: $aiAction
    clientSubscriptionId: $clientSubscriptionId
  ) {
    id
    requestId
    content
    errors
    role
    threadId
    timestamp
    type
    chunkId
    extras {
      sources
      __typename
    }
    __typename
  }
}`

const completionOperation = "aiCompletionResponse"

type threadsResponse struct {
	AiConversationThreads struct {
		Nodes []struct {
			ID               string  `json:"id"`
			ConversationType string  `json:"conversationType"`
			CreatedAt        string  `json:"createdAt"`
			Title            *string `json:"title"`
			LastUpdatedAt    string  `json:"lastUpdatedAt"`
		} `json:"nodes"`
	} `json:"aiConversationThreads"`
}

type messagesResponse struct {
	AiMessages struct {
		Nodes []struct {
			ID        string          `json:"id"`
			RequestID *string         `json:"requestId"`
			Content   string          `json:"content"`
			Role      string          `json:"role"`
			Timestamp string          `json:"timestamp"`
			ChunkID   json.RawMessage `json:"chunkId"`
			Errors    []string        `json:"errors"`
		} `json:"nodes"`
	} `json:"aiMessages"`
}

type aiActionResponse struct {
	AiAction struct {
		RequestID string   `json:"requestId"`
		Errors    []string `json:"errors"`
		ThreadID  *string  `json:"threadId"`
	} `json:"aiAction"`
}

type deleteThreadResponse struct {
	DeleteConversationThread struct {
		Success bool     `json:"success"`
		Errors  []string `json:"errors"`
	} `json:"deleteConversationThread"`
}

type currentUserResponse struct {
	CurrentUser *struct {
		ID                       string   `json:"id"`
		Username                 string   `json:"username"`
		Name                     string   `json:"name"`
		DuoChatAvailable         bool     `json:"duoChatAvailable"`
		DuoChatAvailableFeatures []string `json:"duoChatAvailableFeatures"`
	} `json:"currentUser"`
}

type contextPresetsResponse struct {
	AiChatContextPresets *struct {
		Questions []string `json:"questions"`
	} `json:"aiChatContextPresets"`
}

type slashCommandsResponse struct {
	AiSlashCommands []SlashCommand `json:"aiSlashCommands"`
}

type projectIDResponse struct {
	Project *struct {
		ID string `json:"id"`
	} `json:"project"`
}
