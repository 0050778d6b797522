package router

// Middleware wraps a handler invocation. Returning without calling next
// short-circuits the chain with the returned value.
type Middleware interface {
	Handle(t *Tick, next func() (any, error)) (any, error)
}

// MiddlewareFunc is a function adapter for Middleware.
type MiddlewareFunc func(t *Tick, next func() (any, error)) (any, error)

// Handle implements Middleware.
func (f MiddlewareFunc) Handle(t *Tick, next func() (any, error)) (any, error) {
	return f(t, next)
}

// ComposeMiddleware runs handler inside mw, first to last.
func ComposeMiddleware(t *Tick, mw []Middleware, handler func() (any, error)) (any, error) {
	if len(mw) == 0 {
		return handler()
	}

	chain := handler
	for i := len(mw) - 1; i >= 0; i-- {
		m := mw[i]
		next := chain
		chain = func() (any, error) {
			return m.Handle(t, next)
		}
	}
	return chain()
}

// Chain combines middleware into one, in order.
func Chain(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(t *Tick, next func() (any, error)) (any, error) {
		return ComposeMiddleware(t, middleware, next)
	})
}

// Skip bypasses mw when condition holds.
func Skip(condition func(t *Tick) bool, mw Middleware) Middleware {
	return MiddlewareFunc(func(t *Tick, next func() (any, error)) (any, error) {
		if condition(t) {
			return next()
		}
		return mw.Handle(t, next)
	})
}

// Only runs mw only when condition holds.
func Only(condition func(t *Tick) bool, mw Middleware) Middleware {
	return MiddlewareFunc(func(t *Tick, next func() (any, error)) (any, error) {
		if !condition(t) {
			return next()
		}
		return mw.Handle(t, next)
	})
}
