package repokit

import "context"

// =====================================
// Entity Hook Interfaces
// =====================================

// Entities may opt into lifecycle hooks by implementing any of these
// interfaces; repositories invoke them around mutations. A before-hook
// error aborts the operation.

// BeforeInsertHook is called before inserting an entity
type BeforeInsertHook interface {
	BeforeInsert(ctx context.Context) error
}

// AfterInsertHook is called after successfully inserting an entity
type AfterInsertHook interface {
	AfterInsert(ctx context.Context) error
}

// BeforeUpdateHook is called before updating an entity
type BeforeUpdateHook interface {
	BeforeUpdate(ctx context.Context) error
}

// AfterUpdateHook is called after successfully updating an entity
type AfterUpdateHook interface {
	AfterUpdate(ctx context.Context) error
}

// BeforeDeleteHook is called before deleting an entity
type BeforeDeleteHook interface {
	BeforeDelete(ctx context.Context) error
}

// AfterDeleteHook is called after successfully deleting an entity
type AfterDeleteHook interface {
	AfterDelete(ctx context.Context) error
}

// ValidationHook is called to validate an entity before insert/update
type ValidationHook interface {
	Validate(ctx context.Context) error
}

// RunBeforeWrite fires the validation and before-insert/update hooks an
// entity implements. Repository implementations call it ahead of a write.
func RunBeforeWrite(ctx context.Context, entity interface{}, isNew bool) error {
	if v, ok := entity.(ValidationHook); ok {
		if err := v.Validate(ctx); err != nil {
			return NewErrorWithCause(ErrorTypeValidation, "entity validation failed", err)
		}
	}
	if isNew {
		if h, ok := entity.(BeforeInsertHook); ok {
			return h.BeforeInsert(ctx)
		}
		return nil
	}
	if h, ok := entity.(BeforeUpdateHook); ok {
		return h.BeforeUpdate(ctx)
	}
	return nil
}

// RunAfterWrite fires the after-insert/update hooks an entity implements
func RunAfterWrite(ctx context.Context, entity interface{}, isNew bool) error {
	if isNew {
		if h, ok := entity.(AfterInsertHook); ok {
			return h.AfterInsert(ctx)
		}
		return nil
	}
	if h, ok := entity.(AfterUpdateHook); ok {
		return h.AfterUpdate(ctx)
	}
	return nil
}
