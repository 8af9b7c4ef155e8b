// Package store is the persistence module of the memory engine: the only
// component that speaks the durable triple-store protocol. It translates
// interaction and knowledge-graph records to and from triples under a named
// graph, builds queries from cached {{placeholder}} templates, owns string
// escaping, and wraps every multi-statement mutation in a transaction.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/engramlabs/engram/memory"
)

// Vocabulary: predicates and subject namespaces of the persisted layout.
const (
	predType              = "rdf:type"
	predPrompt            = "engram:prompt"
	predOutput            = "engram:output"
	predEmbedding         = "engram:embedding"
	predTimestamp         = "engram:timestamp"
	predAccessCount       = "engram:accessCount"
	predConcepts          = "engram:concepts"
	predDecayFactor       = "engram:decayFactor"
	predMemoryType        = "engram:memoryType"
	predContent           = "engram:content"
	predProcessingSkipped = "engram:processingSkipped"
	predLabel             = "engram:label"
	predConfidence        = "engram:confidence"
	predFrequency         = "engram:frequency"
	predCategory          = "engram:category"
	predDerivedFrom       = "engram:derivedFrom"
	predHasConcept        = "engram:hasConcept"
	predName              = "engram:name"
	predText              = "engram:text"
	predSummary           = "engram:summary"
	predSource            = "engram:source"
	predTarget            = "engram:target"
	predRelation          = "engram:relation"
	predWeight            = "engram:weight"
	predMember            = "engram:member"

	typeInteraction  = "engram:Interaction"
	typeDocument     = "engram:Document"
	typeConcept      = "engram:Concept"
	typeEntity       = "engram:Entity"
	typeSemanticUnit = "engram:SemanticUnit"
	typeRelationship = "engram:Relationship"
	typeCommunity    = "engram:Community"

	interactionNamespace  = "engram://interaction/"
	documentNamespace     = "engram://document/"
	entityNamespace       = "engram://entity/"
	unitNamespace         = "engram://unit/"
	relationshipNamespace = "engram://relationship/"
	communityNamespace    = "engram://community/"
)

// DefaultGraph is the named graph interactions are written under when the
// caller does not specify one.
const DefaultGraph = "engram://graph/memory"

const defaultMaxObjectLength = 200_000

// Config holds persistence module configuration.
type Config struct {
	// Graph is the default named graph. Defaults to DefaultGraph.
	Graph string

	// Dimension is the embedding vector size for validation on both the
	// write and read paths.
	Dimension int

	// TemplateDir optionally overrides the embedded query templates.
	TemplateDir string

	// MaxObjectLength caps a single triple object. The manager's size gate
	// should prevent oversized payloads from reaching this layer, but the
	// store defends itself regardless.
	MaxObjectLength int
}

// Store translates memory records into and out of the durable triple store.
type Store struct {
	transport Transport
	templates *TemplateCache
	graph     string
	dimension int
	maxObject int
	logger    *slog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a persistence module over the given transport.
func New(transport Transport, cfg Config, opts ...Option) (*Store, error) {
	if transport == nil {
		return nil, goerr.Wrap(memory.ErrConfiguration, "store requires a transport")
	}
	if cfg.Dimension <= 0 {
		return nil, goerr.Wrap(memory.ErrConfiguration, "store requires the embedding dimension",
			goerr.V("dimension", cfg.Dimension))
	}
	if cfg.Graph == "" {
		cfg.Graph = DefaultGraph
	}
	if cfg.MaxObjectLength == 0 {
		cfg.MaxObjectLength = defaultMaxObjectLength
	}
	s := &Store{
		transport: transport,
		templates: NewTemplateCache(cfg.TemplateDir),
		graph:     cfg.Graph,
		dimension: cfg.Dimension,
		maxObject: cfg.MaxObjectLength,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Graph returns the default named graph.
func (s *Store) Graph() string {
	return s.graph
}

// ValidateEmbedding checks an embedding against the configured dimension.
func (s *Store) ValidateEmbedding(vec []float32) error {
	return memory.ValidateEmbedding(vec, s.dimension)
}

// Close releases the underlying transport.
func (s *Store) Close() error {
	return s.transport.Close()
}

// --- query construction -----------------------------------------------------

func (s *Store) render(category, name string, vars map[string]string) (string, error) {
	tmpl, err := s.templates.Load(category, name)
	if err != nil {
		return "", err
	}
	return Render(tmpl, vars), nil
}

// insertStatement renders one triple insert with all caller-controlled
// values escaped. Objects over the size cap raise the typed too-large error
// so the caller can reroute to deferred storage.
func (s *Store) insertStatement(graph, subject, predicate, object string) (string, error) {
	if len(object) > s.maxObject {
		return "", goerr.Wrap(memory.ErrContentTooLarge,
			"triple object exceeds the storage cap; store the content as a deferred document or raise MaxObjectLength",
			goerr.V("subject", subject),
			goerr.V("predicate", predicate),
			goerr.V("length", len(object)),
			goerr.V("cap", s.maxObject))
	}
	return s.render("update", "insert_triple", map[string]string{
		"graph":     escapeLiteral(graph),
		"subject":   escapeLiteral(subject),
		"predicate": escapeLiteral(predicate),
		"object":    escapeLiteral(object),
	})
}

func (s *Store) deleteSubjectStatement(graph, subject string) (string, error) {
	return s.render("update", "delete_subject", map[string]string{
		"graph":   escapeLiteral(graph),
		"subject": escapeLiteral(subject),
	})
}

// execAll runs statements as one transaction: begin, execute, commit, with
// rollback on any failure. A rollback error is logged, never allowed to
// mask the original failure.
func (s *Store) execAll(ctx context.Context, statements []string) error {
	tx, err := s.transport.BeginTransaction(ctx)
	if err != nil {
		return goerr.Wrap(memory.ErrPersistence, "begin transaction", goerr.V("cause", err.Error()))
	}
	for _, q := range statements {
		if err := tx.ExecuteUpdate(ctx, q); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("rollback failed", slog.Any("error", rbErr))
			}
			return goerr.Wrap(memory.ErrPersistence, "transaction aborted and rolled back",
				goerr.V("cause", err.Error()))
		}
	}
	if err := tx.Commit(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback after failed commit failed", slog.Any("error", rbErr))
		}
		return goerr.Wrap(memory.ErrPersistence, "commit failed", goerr.V("cause", err.Error()))
	}
	return nil
}

// --- interactions -----------------------------------------------------------

// interactionStatements builds the upsert statement list for one
// interaction: clear its subject, insert its property triples, and
// (re)materialize its concepts as addressable entities linked back to it.
func (s *Store) interactionStatements(graph string, in *memory.Interaction) ([]string, error) {
	subject := interactionNamespace + in.ID

	embeddingJSON, err := json.Marshal(in.Embedding)
	if err != nil {
		return nil, goerr.Wrap(memory.ErrValidation, "marshal embedding", goerr.V("id", in.ID))
	}
	conceptsJSON, err := json.Marshal(in.Concepts)
	if err != nil {
		return nil, goerr.Wrap(memory.ErrValidation, "marshal concepts", goerr.V("id", in.ID))
	}

	var statements []string
	push := func(predicate, object string) error {
		q, err := s.insertStatement(graph, subject, predicate, object)
		if err != nil {
			return err
		}
		statements = append(statements, q)
		return nil
	}

	del, err := s.deleteSubjectStatement(graph, subject)
	if err != nil {
		return nil, err
	}
	statements = append(statements, del)

	fields := []struct{ predicate, object string }{
		{predType, typeInteraction},
		{predPrompt, in.Prompt},
		{predOutput, in.Output},
		{predEmbedding, string(embeddingJSON)},
		{predTimestamp, strconv.FormatInt(in.Timestamp, 10)},
		{predAccessCount, strconv.Itoa(in.AccessCount)},
		{predConcepts, string(conceptsJSON)},
		{predDecayFactor, strconv.FormatFloat(in.DecayFactor, 'g', -1, 64)},
		{predMemoryType, string(in.MemoryType)},
	}
	for _, f := range fields {
		if err := push(f.predicate, f.object); err != nil {
			return nil, err
		}
	}

	// Concepts are shared entities keyed by deterministic URI: clear and
	// rewrite each one, then link the interaction to it.
	seen := make(map[string]struct{}, len(in.Concepts))
	for _, label := range in.Concepts {
		conceptURI := memory.ConceptURI(label)
		if _, ok := seen[conceptURI]; ok {
			continue
		}
		seen[conceptURI] = struct{}{}

		del, err := s.deleteSubjectStatement(graph, conceptURI)
		if err != nil {
			return nil, err
		}
		statements = append(statements, del)
		for _, f := range []struct{ predicate, object string }{
			{predType, typeConcept},
			{predLabel, label},
		} {
			q, err := s.insertStatement(graph, conceptURI, f.predicate, f.object)
			if err != nil {
				return nil, err
			}
			statements = append(statements, q)
		}
		if err := push(predHasConcept, conceptURI); err != nil {
			return nil, err
		}
	}
	return statements, nil
}

// SaveInteraction transactionally upserts a single interaction and its
// concept entities under the default graph.
func (s *Store) SaveInteraction(ctx context.Context, in *memory.Interaction) error {
	if in == nil || in.ID == "" {
		return goerr.Wrap(memory.ErrValidation, "interaction id is required")
	}
	if err := s.ValidateEmbedding(in.Embedding); err != nil {
		return err
	}
	statements, err := s.interactionStatements(s.graph, in)
	if err != nil {
		return err
	}
	return s.execAll(ctx, statements)
}

// SaveMemoryToHistory replaces the persisted working set wholesale: verify
// the connection, then clear the graph and bulk-insert every short-term and
// long-term record in one transaction.
func (s *Store) SaveMemoryToHistory(ctx context.Context, shortTerm, longTerm []*memory.Interaction) error {
	if err := s.transport.Verify(ctx); err != nil {
		return goerr.Wrap(memory.ErrPersistence, "store verification failed before bulk save",
			goerr.V("cause", err.Error()))
	}

	clearStmt, err := s.render("update", "delete_graph", map[string]string{
		"graph": escapeLiteral(s.graph),
	})
	if err != nil {
		return err
	}
	statements := []string{clearStmt}

	appendAll := func(records []*memory.Interaction, tier memory.MemoryType) error {
		for _, in := range records {
			in.MemoryType = tier
			recStatements, err := s.interactionStatements(s.graph, in)
			if err != nil {
				return err
			}
			statements = append(statements, recStatements...)
		}
		return nil
	}
	if err := appendAll(shortTerm, memory.ShortTerm); err != nil {
		return err
	}
	if err := appendAll(longTerm, memory.LongTerm); err != nil {
		return err
	}

	if err := s.execAll(ctx, statements); err != nil {
		return err
	}
	s.logger.Info("memory history saved",
		slog.Int("shortTerm", len(shortTerm)),
		slog.Int("longTerm", len(longTerm)),
		slog.String("graph", s.graph))
	return nil
}

// LoadHistory reads every interaction from the default graph, partitioned
// into short-term and long-term by the stored memory type. Individual
// malformed records are logged and skipped; an invalid embedding degrades
// to a zero vector instead of dropping the record.
func (s *Store) LoadHistory(ctx context.Context) (shortTerm, longTerm []*memory.Interaction, err error) {
	q, err := s.render("query", "select_by_type", map[string]string{
		"graph": escapeLiteral(s.graph),
		"type":  typeInteraction,
	})
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.transport.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, nil, goerr.Wrap(memory.ErrPersistence, "load history query failed",
			goerr.V("cause", err.Error()))
	}

	for _, props := range groupBySubject(rows) {
		in, parseErr := s.parseInteraction(props.subject, props.values)
		if parseErr != nil {
			s.logger.Warn("skipping malformed interaction record",
				slog.String("subject", props.subject), slog.Any("error", parseErr))
			continue
		}
		if in.MemoryType == memory.LongTerm {
			longTerm = append(longTerm, in)
		} else {
			shortTerm = append(shortTerm, in)
		}
	}
	return shortTerm, longTerm, nil
}

type subjectProps struct {
	subject string
	values  map[string]string
}

// groupBySubject folds triple rows into per-subject property maps,
// preserving subject order.
func groupBySubject(rows []Row) []subjectProps {
	bySubject := make(map[string]map[string]string)
	var order []string
	for _, row := range rows {
		subject := row["subject"]
		if bySubject[subject] == nil {
			bySubject[subject] = make(map[string]string)
			order = append(order, subject)
		}
		bySubject[subject][row["predicate"]] = row["object"]
	}
	out := make([]subjectProps, 0, len(order))
	for _, subject := range order {
		out = append(out, subjectProps{subject: subject, values: bySubject[subject]})
	}
	return out
}

func (s *Store) parseInteraction(subject string, props map[string]string) (*memory.Interaction, error) {
	id := strings.TrimPrefix(subject, interactionNamespace)
	if id == "" || id == subject {
		return nil, goerr.New("subject outside the interaction namespace", goerr.V("subject", subject))
	}
	prompt, ok := props[predPrompt]
	if !ok {
		return nil, goerr.New("record missing prompt", goerr.V("subject", subject))
	}

	in := &memory.Interaction{
		ID:          id,
		Prompt:      unescapeLiteral(prompt),
		Output:      unescapeLiteral(props[predOutput]),
		AccessCount: 1,
		DecayFactor: 1.0,
		MemoryType:  memory.MemoryType(props[predMemoryType]),
	}
	if in.MemoryType != memory.LongTerm {
		in.MemoryType = memory.ShortTerm
	}

	var embedding []float32
	if err := json.Unmarshal([]byte(unescapeLiteral(props[predEmbedding])), &embedding); err != nil {
		s.logger.Warn("invalid embedding payload, falling back to zero vector",
			slog.String("subject", subject), slog.Any("error", err))
	}
	in.Embedding = memory.StandardizeEmbedding(embedding, s.dimension)

	if ts, err := strconv.ParseInt(props[predTimestamp], 10, 64); err == nil {
		in.Timestamp = ts
	}
	if n, err := strconv.Atoi(props[predAccessCount]); err == nil && n > 0 {
		in.AccessCount = n
	}
	if f, err := strconv.ParseFloat(props[predDecayFactor], 64); err == nil && f > 0 && f <= 1 {
		in.DecayFactor = f
	}
	if raw := props[predConcepts]; raw != "" {
		if err := json.Unmarshal([]byte(unescapeLiteral(raw)), &in.Concepts); err != nil {
			s.logger.Warn("invalid concepts payload, continuing without concepts",
				slog.String("subject", subject), slog.Any("error", err))
		}
	}
	return in, nil
}

// --- ad hoc and knowledge-graph writers -------------------------------------

// StoreData upserts an ad hoc entity: data keys become predicates under the
// engram vocabulary. The record goes to graph when given, else the default
// graph. Requires an "id" key.
func (s *Store) StoreData(ctx context.Context, data map[string]string, graph string) error {
	id, ok := data["id"]
	if !ok || id == "" {
		return goerr.Wrap(memory.ErrValidation, "store requires an id field")
	}
	if graph == "" {
		graph = s.graph
	}
	subject := entityNamespace + id

	del, err := s.deleteSubjectStatement(graph, subject)
	if err != nil {
		return err
	}
	statements := []string{del}

	keys := make([]string, 0, len(data))
	for k := range data {
		if k != "id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		q, err := s.insertStatement(graph, subject, "engram:"+k, data[k])
		if err != nil {
			return err
		}
		statements = append(statements, q)
	}
	return s.execAll(ctx, statements)
}

// StoreDocument persists an unprocessed content record: the deferred path
// for oversized interactions, written without embedding or concepts.
func (s *Store) StoreDocument(ctx context.Context, doc *memory.Document) error {
	if doc == nil || doc.ID == "" {
		return goerr.Wrap(memory.ErrValidation, "document id is required")
	}
	subject := documentNamespace + doc.ID

	del, err := s.deleteSubjectStatement(s.graph, subject)
	if err != nil {
		return err
	}
	statements := []string{del}

	fields := []struct{ predicate, object string }{
		{predType, typeDocument},
		{predContent, doc.Content},
		{predTimestamp, strconv.FormatInt(doc.Timestamp, 10)},
	}
	if doc.ProcessingSkipped != "" {
		fields = append(fields, struct{ predicate, object string }{predProcessingSkipped, doc.ProcessingSkipped})
	}
	for _, f := range fields {
		q, err := s.insertStatement(s.graph, subject, f.predicate, f.object)
		if err != nil {
			return err
		}
		statements = append(statements, q)
	}

	keys := make([]string, 0, len(doc.Metadata))
	for k := range doc.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q, err := s.insertStatement(s.graph, subject, "engram:meta:"+k, doc.Metadata[k])
		if err != nil {
			return err
		}
		statements = append(statements, q)
	}
	return s.execAll(ctx, statements)
}

// LoadDocuments reads back the deferred document records.
func (s *Store) LoadDocuments(ctx context.Context) ([]*memory.Document, error) {
	q, err := s.render("query", "select_by_type", map[string]string{
		"graph": escapeLiteral(s.graph),
		"type":  typeDocument,
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.transport.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, goerr.Wrap(memory.ErrPersistence, "load documents query failed",
			goerr.V("cause", err.Error()))
	}

	var docs []*memory.Document
	for _, props := range groupBySubject(rows) {
		doc := &memory.Document{
			ID:                strings.TrimPrefix(props.subject, documentNamespace),
			Content:           unescapeLiteral(props.values[predContent]),
			ProcessingSkipped: props.values[predProcessingSkipped],
		}
		if ts, err := strconv.ParseInt(props.values[predTimestamp], 10, 64); err == nil {
			doc.Timestamp = ts
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Entity is an addressable knowledge-graph entity extracted from text.
type Entity struct {
	ID       string
	Name     string
	Category string
	Metadata map[string]string
}

// StoreEntity persists a knowledge-graph entity.
func (s *Store) StoreEntity(ctx context.Context, e *Entity) error {
	if e == nil || e.ID == "" || e.Name == "" {
		return goerr.Wrap(memory.ErrValidation, "entity requires id and name")
	}
	subject := entityNamespace + e.ID

	statements, err := s.subjectStatements(subject, typeEntity, []field{
		{predName, e.Name},
		{predCategory, e.Category},
	})
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q, err := s.insertStatement(s.graph, subject, "engram:meta:"+k, e.Metadata[k])
		if err != nil {
			return err
		}
		statements = append(statements, q)
	}
	return s.execAll(ctx, statements)
}

// SemanticUnit is an independently addressable text fragment with its
// summary, produced by corpus decomposition.
type SemanticUnit struct {
	ID       string
	Text     string
	Summary  string
	SourceID string
}

// StoreSemanticUnit persists a semantic unit.
func (s *Store) StoreSemanticUnit(ctx context.Context, u *SemanticUnit) error {
	if u == nil || u.ID == "" || u.Text == "" {
		return goerr.Wrap(memory.ErrValidation, "semantic unit requires id and text")
	}
	statements, err := s.subjectStatements(unitNamespace+u.ID, typeSemanticUnit, []field{
		{predText, u.Text},
		{predSummary, u.Summary},
		{predSource, u.SourceID},
	})
	if err != nil {
		return err
	}
	return s.execAll(ctx, statements)
}

// StoreRelationship persists a typed, weighted edge between two entities.
func (s *Store) StoreRelationship(ctx context.Context, r *memory.Relationship) error {
	if r == nil || r.Source == "" || r.Target == "" || r.Type == "" {
		return goerr.Wrap(memory.ErrValidation, "relationship requires source, target and type")
	}
	statements, err := s.subjectStatements(relationshipNamespace+uuid.New().String(), typeRelationship, []field{
		{predSource, r.Source},
		{predTarget, r.Target},
		{predRelation, r.Type},
		{predWeight, strconv.FormatFloat(r.Weight, 'g', -1, 64)},
		{predConfidence, strconv.FormatFloat(r.Confidence, 'g', -1, 64)},
	})
	if err != nil {
		return err
	}
	return s.execAll(ctx, statements)
}

// Community is a cluster of related entities.
type Community struct {
	ID      string
	Label   string
	Members []string
}

// StoreCommunity persists a community and its membership edges.
func (s *Store) StoreCommunity(ctx context.Context, c *Community) error {
	if c == nil || c.ID == "" {
		return goerr.Wrap(memory.ErrValidation, "community requires an id")
	}
	subject := communityNamespace + c.ID
	statements, err := s.subjectStatements(subject, typeCommunity, []field{
		{predLabel, c.Label},
	})
	if err != nil {
		return err
	}
	for _, member := range c.Members {
		q, err := s.insertStatement(s.graph, subject, predMember, member)
		if err != nil {
			return err
		}
		statements = append(statements, q)
	}
	return s.execAll(ctx, statements)
}

// StoreConcepts persists concept nodes with confidence, category, frequency
// and optional embeddings, each linked back to its source interaction.
func (s *Store) StoreConcepts(ctx context.Context, concepts []memory.Concept) error {
	if len(concepts) == 0 {
		return nil
	}
	var statements []string
	for i := range concepts {
		c := &concepts[i]
		if c.Label == "" {
			return goerr.Wrap(memory.ErrValidation, "concept label is required", goerr.V("index", i))
		}
		fields := []field{
			{predLabel, c.Label},
			{predConfidence, strconv.FormatFloat(c.Confidence, 'g', -1, 64)},
			{predFrequency, strconv.Itoa(c.Frequency)},
			{predCategory, c.Category},
		}
		if c.InteractionID != "" {
			fields = append(fields, field{predDerivedFrom, interactionNamespace + c.InteractionID})
		}
		if c.Embedding != nil {
			if err := s.ValidateEmbedding(c.Embedding); err != nil {
				return err
			}
			payload, err := json.Marshal(c.Embedding)
			if err != nil {
				return goerr.Wrap(memory.ErrValidation, "marshal concept embedding", goerr.V("label", c.Label))
			}
			fields = append(fields, field{predEmbedding, string(payload)})
		}
		subjectStatements, err := s.subjectStatements(memory.ConceptURI(c.Label), typeConcept, fields)
		if err != nil {
			return err
		}
		statements = append(statements, subjectStatements...)
	}
	return s.execAll(ctx, statements)
}

type field struct {
	predicate string
	object    string
}

// subjectStatements builds the clear-then-insert statement list shared by
// the typed writers. Empty objects are elided.
func (s *Store) subjectStatements(subject, subjectType string, fields []field) ([]string, error) {
	del, err := s.deleteSubjectStatement(s.graph, subject)
	if err != nil {
		return nil, err
	}
	statements := []string{del}

	q, err := s.insertStatement(s.graph, subject, predType, subjectType)
	if err != nil {
		return nil, err
	}
	statements = append(statements, q)

	for _, f := range fields {
		if f.object == "" {
			continue
		}
		q, err := s.insertStatement(s.graph, subject, f.predicate, f.object)
		if err != nil {
			return nil, err
		}
		statements = append(statements, q)
	}
	return statements, nil
}
