package main

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// RunState is the orchestrator's position in the three-stage pipeline.
type RunState string

const (
	StateIdle          RunState = "idle"
	StateStage1Running RunState = "stage1_running"
	StateStage1Done    RunState = "stage1_done"
	StateStage2Running RunState = "stage2_running"
	StateStage2Done    RunState = "stage2_done"
	StateStage3Running RunState = "stage3_running"
	StateComplete      RunState = "complete"
	StateFailed        RunState = "failed"
)

// runTransitions is the legal forward edge per state. failed is reachable
// from any non-terminal state and handled separately.
var runTransitions = map[RunState]RunState{
	StateIdle:          StateStage1Running,
	StateStage1Running: StateStage1Done,
	StateStage1Done:    StateStage2Running,
	StateStage2Running: StateStage2Done,
	StateStage2Done:    StateStage3Running,
	StateStage3Running: StateComplete,
}

// Terminal reports whether no further transition is possible from s.
func (s RunState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether moving from s to next is a legal pipeline
// transition.
func (s RunState) CanTransition(next RunState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return runTransitions[s] == next
}

// CouncilRun owns one execution of the three-stage pipeline for a single
// question. It holds the in-progress results exclusively until the run
// reaches a terminal state; callers read them only after Execute returns.
// The state field doubles as the transient loading marker: it exists only
// for the lifetime of the run and is never persisted.
type CouncilRun struct {
	Query string

	state RunState
	sink  EventSink

	Stage1   []Stage1Response
	Stage2   []Stage2Ranking
	Stage3   *Stage3Response
	Metadata Metadata
}

// NewCouncilRun creates a run in the idle state. sink may be nil for
// non-streaming callers.
func NewCouncilRun(query string, sink EventSink) *CouncilRun {
	return &CouncilRun{
		Query: query,
		state: StateIdle,
		sink:  sink,
	}
}

// State returns the run's current pipeline state.
func (r *CouncilRun) State() RunState {
	return r.state
}

func (r *CouncilRun) transition(next RunState) error {
	if !r.state.CanTransition(next) {
		return fmt.Errorf("illegal run transition %s -> %s", r.state, next)
	}
	r.state = next
	return nil
}

func (r *CouncilRun) emit(event CouncilEvent) {
	if r.sink != nil {
		r.sink(event)
	}
}

// fail moves the run to its failed terminal state and emits the error
// event that lets the client stop waiting.
func (r *CouncilRun) fail(reason string) error {
	r.state = StateFailed
	r.emit(CouncilEvent{Type: EventError, Message: reason})
	return fmt.Errorf("council run failed: %s", reason)
}

// Execute drives the pipeline to a terminal state, emitting progress
// events at every transition. Results accumulated by completed stages
// survive a later failure, so partial runs can still be persisted.
func (r *CouncilRun) Execute(ctx context.Context) error {
	// Stage 1: independent answers from every council model.
	if err := r.transition(StateStage1Running); err != nil {
		return err
	}
	r.emit(CouncilEvent{Type: EventStage1Start})

	r.Stage1 = Stage1CollectResponses(ctx, r.Query)
	survivors := surviving(r.Stage1)
	if len(survivors) == 0 {
		return r.fail("all council models failed to respond")
	}
	if err := r.transition(StateStage1Done); err != nil {
		return err
	}
	r.emit(CouncilEvent{Type: EventStage1Complete, Data: r.Stage1})

	// Stage 2: anonymous peer ranking among the survivors.
	if err := r.transition(StateStage2Running); err != nil {
		return err
	}
	r.emit(CouncilEvent{Type: EventStage2Start})

	stage2, labelToModel := Stage2CollectRankings(ctx, r.Query, survivors)
	if len(stage2) == 0 {
		return r.fail("no council model produced a ranking")
	}
	participants := make([]string, len(survivors))
	for i, s := range survivors {
		participants[i] = s.Model
	}
	r.Stage2 = stage2
	r.Metadata = Metadata{
		LabelToModel:      labelToModel,
		AggregateRankings: CalculateAggregateRankings(stage2, labelToModel, participants),
	}
	if err := r.transition(StateStage2Done); err != nil {
		return err
	}
	r.emit(CouncilEvent{Type: EventStage2Complete, Data: Stage2CompleteData{
		Rankings:          stage2,
		LabelToModel:      labelToModel,
		AggregateRankings: r.Metadata.AggregateRankings,
	}})

	// Stage 3: chairman synthesis. Single call, not parallelized.
	if err := r.transition(StateStage3Running); err != nil {
		return err
	}
	r.emit(CouncilEvent{Type: EventStage3Start})

	stage3, err := Stage3SynthesizeFinal(ctx, r.Query, survivors, r.Stage2, r.Metadata)
	if err != nil {
		return r.fail(fmt.Sprintf("synthesis failed: %v", err))
	}
	r.Stage3 = stage3
	if err := r.transition(StateComplete); err != nil {
		return err
	}
	r.emit(CouncilEvent{Type: EventStage3Complete, Data: stage3})

	return nil
}

// AssistantMessage returns the terminal message record for this run,
// holding whatever stages completed before the run ended.
func (r *CouncilRun) AssistantMessage() Message {
	msg := Message{
		Role:   "assistant",
		Stage1: r.Stage1,
		Stage2: r.Stage2,
		Stage3: r.Stage3,
	}
	if r.Metadata.LabelToModel != nil {
		metadata := r.Metadata
		msg.Metadata = &metadata
	}
	return msg
}

// surviving filters a Stage-1 result list down to the models that actually
// answered; only these enter anonymization and Stage 2.
func surviving(results []Stage1Response) []Stage1Response {
	var ok []Stage1Response
	for _, r := range results {
		if !r.Failed {
			ok = append(ok, r)
		}
	}
	return ok
}

// Stage1CollectResponses submits the question to every council model in
// parallel and joins once all calls settle. The returned slice has one
// entry per configured model in submission order; a failed model keeps
// its slot with an error placeholder so the record stays complete.
func Stage1CollectResponses(ctx context.Context, userQuery string) []Stage1Response {
	messages := []OpenRouterMessage{
		{Role: "user", Content: userQuery},
	}

	results := QueryModelsParallel(ctx, CouncilModels, messages, ModelQueryTimeout)

	stage1 := make([]Stage1Response, len(results))
	for i, result := range results {
		if result.Err != nil {
			stage1[i] = Stage1Response{
				Model:    result.Model,
				Response: fmt.Sprintf("Error: model did not respond (%v)", result.Err),
				Failed:   true,
			}
			continue
		}
		stage1[i] = Stage1Response{
			Model:    result.Model,
			Response: result.Response.Content,
		}
	}

	return stage1
}

// Stage2CollectRankings has each surviving model judge the anonymized
// answer set. Labels are assigned in Stage-1 submission order, so the
// mapping is reproducible for a given Stage-1 outcome. A judge that fails
// is dropped; a judge whose ranking doesn't parse is kept with an empty
// parsed ranking so its raw text can still be displayed.
func Stage2CollectRankings(ctx context.Context, userQuery string, stage1Results []Stage1Response) ([]Stage2Ranking, map[string]string) {
	labeled, labelToModel := AssignLabels(stage1Results)

	var responsesText strings.Builder
	for _, lr := range labeled {
		responsesText.WriteString(fmt.Sprintf("%s:\n%s\n\n", lr.Label, lr.Response))
	}

	rankingPrompt := fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Example of the correct format for your ENTIRE response:

Response A provides good detail on X but misses Y...
Response B is accurate but lacks depth on Z...
Response C offers the most comprehensive answer...

FINAL RANKING:
1. Response C
2. Response A
3. Response B

Now provide your evaluation and ranking:`, userQuery, responsesText.String())

	messages := []OpenRouterMessage{
		{Role: "user", Content: rankingPrompt},
	}

	judges := make([]string, len(stage1Results))
	for i, result := range stage1Results {
		judges[i] = result.Model
	}

	results := QueryModelsParallel(ctx, judges, messages, ModelQueryTimeout)

	var stage2 []Stage2Ranking
	for _, result := range results {
		if result.Err != nil {
			continue
		}
		fullText := result.Response.Content
		stage2 = append(stage2, Stage2Ranking{
			Model:         result.Model,
			Ranking:       fullText,
			ParsedRanking: ParseRankingFromText(fullText),
		})
	}

	return stage2, labelToModel
}

// Stage3SynthesizeFinal sends the full run context to the chairman model:
// the question, every surviving answer under its real model name, the
// de-anonymized peer rankings, and the consensus ordering.
func Stage3SynthesizeFinal(ctx context.Context, userQuery string, stage1Results []Stage1Response, stage2Results []Stage2Ranking, metadata Metadata) (*Stage3Response, error) {
	var stage1Text strings.Builder
	for _, result := range stage1Results {
		stage1Text.WriteString(fmt.Sprintf("Model: %s\nResponse: %s\n\n", result.Model, result.Response))
	}

	// The chairman sees real identities; labels in the judges' prose are
	// resolved back to model names.
	var stage2Text strings.Builder
	for _, result := range stage2Results {
		stage2Text.WriteString(fmt.Sprintf("Model: %s\nRanking: %s\n\n",
			result.Model, Deanonymize(result.Ranking, metadata.LabelToModel)))
	}

	var aggregateText strings.Builder
	for i, agg := range metadata.AggregateRankings {
		if agg.RankingsCount == 0 {
			aggregateText.WriteString(fmt.Sprintf("%d. %s (not ranked by any judge)\n", i+1, agg.Model))
			continue
		}
		aggregateText.WriteString(fmt.Sprintf("%d. %s (average rank %.2f across %d rankings)\n",
			i+1, agg.Model, agg.AverageRank, agg.RankingsCount))
	}

	chairmanPrompt := fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

STAGE 2 - Consensus Ordering:
%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`,
		userQuery, stage1Text.String(), stage2Text.String(), aggregateText.String())

	messages := []OpenRouterMessage{
		{Role: "user", Content: chairmanPrompt},
	}

	response, err := QueryModel(ctx, ChairmanModel, messages, ModelQueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("chairman model query failed: %w", err)
	}

	return &Stage3Response{
		Model:    ChairmanModel,
		Response: response.Content,
	}, nil
}

// RunFullCouncil runs the complete 3-stage council process without a
// stream attached and returns the terminal results. Used by the blocking
// message endpoint.
func RunFullCouncil(ctx context.Context, userQuery string) ([]Stage1Response, []Stage2Ranking, Stage3Response, Metadata, error) {
	run := NewCouncilRun(userQuery, nil)
	if err := run.Execute(ctx); err != nil {
		return nil, nil, Stage3Response{}, Metadata{}, err
	}
	return run.Stage1, run.Stage2, *run.Stage3, run.Metadata, nil
}

// GenerateConversationTitle generates a short title for a conversation.
// Uses the fast title model to create a 3-5 word summary of the user's query.
func GenerateConversationTitle(ctx context.Context, userQuery string) (string, error) {
	titlePrompt := fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, userQuery)

	messages := []OpenRouterMessage{
		{Role: "user", Content: titlePrompt},
	}

	response, err := QueryModel(ctx, TitleModel, messages, TitleGenTimeout)
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	title := strings.TrimSpace(response.Content)
	title = strings.Trim(title, "\"'")
	if len(title) > 50 {
		title = title[:47] + "..."
	}

	return title, nil
}

// logRunOutcome records how a run ended; recovered per-model failures are
// already logged at the client layer.
func logRunOutcome(run *CouncilRun, err error) {
	if err != nil {
		log.Printf("council run ended in state %s: %v", run.State(), err)
		return
	}
	log.Printf("council run complete: %d responses, %d rankings", len(run.Stage1), len(run.Stage2))
}
