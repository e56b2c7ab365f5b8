// Package types is the foundation of Casparian Flow's data model: the
// catalog entities shared by the scanner (Scout), the dispatcher
// (Sentinel), and the worker runtime, plus the enums that back every
// status column.
//
// Every status field here is a distinct type wrapping string rather than
// a bare string, so a plain string variable cannot be assigned to or
// compared with a status field without a conversion. CanTransitionJob /
// CanTransitionPlugin report which status transitions are legal; the
// catalog store does not call them, so status writes are not checked
// against them.
package types
