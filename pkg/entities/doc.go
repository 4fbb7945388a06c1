// Package entities stores the organization and program graph.
//
// Organizations author programs through a many-to-many link. One author per
// program may be marked as managing, which determines where report artifacts
// are attributed. Permission resolution in pkg/rbac walks this graph upward:
// a grant on any authoring organization extends to the program.
package entities
