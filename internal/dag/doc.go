// Package dag turns a flat list of level-annotated jobs into a dependency
// description, renders it in the scheduler's DAG file format, and runs it
// locally with a cap on concurrently live jobs.
//
// Levels are adjacent tiers: every job at level n is a parent of every job at
// the next higher level present. Jobs sharing one level are independent.
package dag
