package constants

// DefaultWorkspaceName is the machine name of the workspace every replica
// starts with unless configured otherwise.
const DefaultWorkspaceName = "live"

// WorkspaceHeader carries the workspace a request is scoped to.
const WorkspaceHeader = "X-Workspace"

// WorkspaceQueryParam is the query-string fallback for WorkspaceHeader.
const WorkspaceQueryParam = "workspace"

// RevisionField is the document field holding the base revision of a write.
const RevisionField = "_rev"
