// Package triage provides the decision core of the steward worker: the
// heuristic classifier, the model classifier with its retrieval-augmented
// prompt, the similarity Retriever, and the Engine that composes them into
// one total triage operation.
package triage
