// Package types defines the shared data model for the mnemo engine:
// episodes, entities, relationships, insights and the result structs
// returned by engine operations.
package types
