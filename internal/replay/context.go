package replay

// eventContext is the side metadata collected for the segment in flight.
type eventContext struct {
	errorIDs         []string
	traceIDs         []string
	urls             []string
	initialTimestamp int64
	initialURL       string
}

// poppedContext is the snapshot handed to the upload.
type poppedContext struct {
	InitialTimestamp int64
	InitialURL       string
	ErrorIDs         []string
	TraceIDs         []string
	URLs             []string
}

func (c *eventContext) clear() {
	c.errorIDs = nil
	c.traceIDs = nil
	c.urls = nil
}

func (c *eventContext) pop() poppedContext {
	p := poppedContext{
		InitialTimestamp: c.initialTimestamp,
		InitialURL:       c.initialURL,
		ErrorIDs:         c.errorIDs,
		TraceIDs:         c.traceIDs,
		URLs:             c.urls,
	}
	c.clear()
	return p
}

func addUnique(set []string, v string) []string {
	for _, s := range set {
		if s == v {
			return set
		}
	}
	return append(set, v)
}
