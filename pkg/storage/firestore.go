package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gridhabit/gridhabit/pkg/types"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Documents carry a portable JSON blob plus the few fields needed
// for range and match queries. Telemetry reads stay on the embedded store.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how the firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) userColl(userID, name string) (*firestore.CollectionRef, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}
	return f.client.Collection("users").Doc(userID).Collection(name), nil
}

// patternDocID derives a stable document ID from the pattern identity so the
// transactional upsert can address the row without a lookup query.
func patternDocID(key types.PatternKey) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		key.Trigger.Vendor, key.Trigger.DeviceID, key.Trigger.Event,
		key.Action.Vendor, key.Action.DeviceID, key.Action.Event,
		key.Context, key.UserID)))
	return hex.EncodeToString(h[:16])
}

func patternDocData(pt types.HabitPattern) (map[string]any, error) {
	b, err := json.Marshal(pt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pattern: %w", err)
	}
	return map[string]any{
		"json":          string(b),
		"id":            pt.ID,
		"state":         string(pt.State),
		"confidence":    pt.Confidence,
		"triggerVendor": pt.Key.Trigger.Vendor,
		"triggerDevice": pt.Key.Trigger.DeviceID,
		"triggerEvent":  pt.Key.Trigger.Event,
		"context":       string(pt.Key.Context),
		"updatedAt":     pt.UpdatedAt,
	}, nil
}

func patternFromDoc(doc *firestore.DocumentSnapshot) (types.HabitPattern, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return types.HabitPattern{}, fmt.Errorf("pattern document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.HabitPattern{}, fmt.Errorf("pattern document %s 'json' field is not string", doc.Ref.ID)
	}
	var pt types.HabitPattern
	if err := json.Unmarshal([]byte(jsonStr), &pt); err != nil {
		return types.HabitPattern{}, fmt.Errorf("failed to unmarshal pattern (id=%s): %w", doc.Ref.ID, err)
	}
	return pt, nil
}

// UpdatePattern runs fn against the pattern for key inside a Firestore
// transaction so concurrent ticks cannot lose counter updates.
func (f *FirestoreProvider) UpdatePattern(ctx context.Context, key types.PatternKey, fn func(*types.HabitPattern) error) (types.HabitPattern, error) {
	coll, err := f.userColl(key.UserID, "patterns")
	if err != nil {
		return types.HabitPattern{}, err
	}
	ref := coll.Doc(patternDocID(key))

	var result types.HabitPattern
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		var pt types.HabitPattern
		created := false
		if status.Code(err) == codes.NotFound {
			pt = types.HabitPattern{Key: key}
			created = true
		} else if err != nil {
			return fmt.Errorf("failed to fetch pattern doc: %w", err)
		} else {
			pt, err = patternFromDoc(doc)
			if err != nil {
				return err
			}
		}
		if err := fn(&pt); err != nil {
			return err
		}
		now := time.Now()
		if created {
			pt.ID = uuid.NewString()
			pt.CreatedAt = now
		}
		pt.UpdatedAt = now
		data, err := patternDocData(pt)
		if err != nil {
			return err
		}
		result = pt
		return tx.Set(ref, data)
	})
	if err != nil {
		return types.HabitPattern{}, err
	}
	return result, nil
}

func (f *FirestoreProvider) findPatternRef(ctx context.Context, id string) (*firestore.DocumentRef, types.HabitPattern, error) {
	iter := f.client.CollectionGroup("patterns").Where("id", "==", id).Limit(1).Documents(ctx)
	defer iter.Stop()
	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, types.HabitPattern{}, ErrNotFound
	}
	if err != nil {
		return nil, types.HabitPattern{}, fmt.Errorf("error finding pattern: %w", err)
	}
	pt, err := patternFromDoc(doc)
	if err != nil {
		return nil, types.HabitPattern{}, err
	}
	return doc.Ref, pt, nil
}

func (f *FirestoreProvider) UpdatePatternByID(ctx context.Context, id string, fn func(*types.HabitPattern) error) (types.HabitPattern, error) {
	ref, _, err := f.findPatternRef(ctx, id)
	if err != nil {
		return types.HabitPattern{}, err
	}
	var result types.HabitPattern
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return fmt.Errorf("failed to fetch pattern doc: %w", err)
		}
		pt, err := patternFromDoc(doc)
		if err != nil {
			return err
		}
		if err := fn(&pt); err != nil {
			return err
		}
		pt.UpdatedAt = time.Now()
		data, err := patternDocData(pt)
		if err != nil {
			return err
		}
		result = pt
		return tx.Set(ref, data)
	})
	if err != nil {
		return types.HabitPattern{}, err
	}
	return result, nil
}

func (f *FirestoreProvider) GetPattern(ctx context.Context, id string) (types.HabitPattern, error) {
	_, pt, err := f.findPatternRef(ctx, id)
	return pt, err
}

func (f *FirestoreProvider) ListPatterns(ctx context.Context, userID string) ([]types.HabitPattern, error) {
	coll, err := f.userColl(userID, "patterns")
	if err != nil {
		return nil, err
	}
	iter := coll.Documents(ctx)
	defer iter.Stop()
	var out []types.HabitPattern
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating patterns: %w", err)
		}
		pt, err := patternFromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

func (f *FirestoreProvider) ListActivePatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey, limit int) ([]types.HabitPattern, error) {
	coll, err := f.userColl(userID, "patterns")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where("state", "==", string(types.PatternActive)).
		Where("triggerVendor", "==", trigger.Vendor).
		Where("triggerDevice", "==", trigger.DeviceID).
		Where("triggerEvent", "==", trigger.Event).
		Where("context", "in", []string{string(ck), string(types.ContextGlobal)}).
		OrderBy("confidence", firestore.Desc).
		OrderBy("updatedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()
	var out []types.HabitPattern
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating active patterns: %w", err)
		}
		pt, err := patternFromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

func (f *FirestoreProvider) ListPatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey) ([]types.HabitPattern, error) {
	coll, err := f.userColl(userID, "patterns")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where("triggerVendor", "==", trigger.Vendor).
		Where("triggerDevice", "==", trigger.DeviceID).
		Where("triggerEvent", "==", trigger.Event).
		Where("context", "in", []string{string(ck), string(types.ContextGlobal)}).
		Documents(ctx)
	defer iter.Stop()
	var out []types.HabitPattern
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating trigger patterns: %w", err)
		}
		pt, err := patternFromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

func (f *FirestoreProvider) DeletePattern(ctx context.Context, id string) error {
	ref, _, err := f.findPatternRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}
	return nil
}

// InsertHabitLog appends an audit record to the "habit_logs" collection.
// The document ID is the RFC3339Nano timestamp for efficient range queries.
func (f *FirestoreProvider) InsertHabitLog(ctx context.Context, entry types.HabitLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal habit log: %w", err)
	}
	docID := entry.Timestamp.UTC().Format(time.RFC3339Nano) + "-" + entry.ID
	_, err = f.client.Collection("habit_logs").Doc(docID).Set(ctx, map[string]any{
		"json":      string(b),
		"patternID": entry.PatternID,
		"timestamp": entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert habit log: %w", err)
	}
	return nil
}

func (f *FirestoreProvider) ListHabitLogs(ctx context.Context, patternID string, limit int) ([]types.HabitLogEntry, error) {
	q := f.client.Collection("habit_logs").
		Where("patternID", "==", patternID).
		OrderBy("timestamp", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()
	var out []types.HabitLogEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating habit logs: %w", err)
		}
		val, err := doc.DataAt("json")
		if err != nil {
			return nil, fmt.Errorf("habit log document %s missing 'json' field: %w", doc.Ref.ID, err)
		}
		jsonStr, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("habit log document %s 'json' field is not string", doc.Ref.ID)
		}
		var e types.HabitLogEntry
		if err := json.Unmarshal([]byte(jsonStr), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal habit log (id=%s): %w", doc.Ref.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	coll, err := f.userColl(userID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}.Normalize(), 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}
	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s.Normalize(), version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	b, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	coll, err := f.userColl(userID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]any{
		"json":    string(b),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (f *FirestoreProvider) ListUsers(ctx context.Context) ([]string, error) {
	iter := f.client.Collection("users").DocumentRefs(ctx)
	var out []string
	for {
		ref, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating users: %w", err)
		}
		out = append(out, ref.ID)
	}
	return out, nil
}

func automationDocData(a types.Automation) (map[string]any, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal automation: %w", err)
	}
	return map[string]any{
		"json":      string(b),
		"createdAt": a.CreatedAt,
	}, nil
}

func automationFromDoc(doc *firestore.DocumentSnapshot) (types.Automation, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return types.Automation{}, fmt.Errorf("automation document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.Automation{}, fmt.Errorf("automation document %s 'json' field is not string", doc.Ref.ID)
	}
	var a types.Automation
	if err := json.Unmarshal([]byte(jsonStr), &a); err != nil {
		return types.Automation{}, fmt.Errorf("failed to unmarshal automation (id=%s): %w", doc.Ref.ID, err)
	}
	return a, nil
}

func (f *FirestoreProvider) ListAutomations(ctx context.Context, userID string) ([]types.Automation, error) {
	coll, err := f.userColl(userID, "automations")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()
	var out []types.Automation
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating automations: %w", err)
		}
		a, err := automationFromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *FirestoreProvider) findAutomationRef(ctx context.Context, id string) (*firestore.DocumentRef, types.Automation, error) {
	iter := f.client.CollectionGroup("automations").Where("id", "==", id).Limit(1).Documents(ctx)
	defer iter.Stop()
	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, types.Automation{}, ErrNotFound
	}
	if err != nil {
		return nil, types.Automation{}, fmt.Errorf("error finding automation: %w", err)
	}
	a, err := automationFromDoc(doc)
	if err != nil {
		return nil, types.Automation{}, err
	}
	return doc.Ref, a, nil
}

func (f *FirestoreProvider) GetAutomation(ctx context.Context, id string) (types.Automation, error) {
	_, a, err := f.findAutomationRef(ctx, id)
	return a, err
}

func (f *FirestoreProvider) CreateAutomation(ctx context.Context, a types.Automation) (types.Automation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	coll, err := f.userColl(a.UserID, "automations")
	if err != nil {
		return types.Automation{}, err
	}
	data, err := automationDocData(a)
	if err != nil {
		return types.Automation{}, err
	}
	data["id"] = a.ID
	if _, err := coll.Doc(a.ID).Set(ctx, data); err != nil {
		return types.Automation{}, fmt.Errorf("failed to create automation: %w", err)
	}
	return a, nil
}

func (f *FirestoreProvider) UpdateAutomation(ctx context.Context, a types.Automation) error {
	ref, _, err := f.findAutomationRef(ctx, a.ID)
	if err != nil {
		return err
	}
	data, err := automationDocData(a)
	if err != nil {
		return err
	}
	data["id"] = a.ID
	if _, err := ref.Set(ctx, data); err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}
	return nil
}

func (f *FirestoreProvider) DeleteAutomation(ctx context.Context, id string) error {
	ref, _, err := f.findAutomationRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete automation: %w", err)
	}
	_, _ = f.client.Collection("automation_state").Doc(id).Delete(ctx)
	return nil
}

func (f *FirestoreProvider) GetAutomationState(ctx context.Context, id string) (types.AutomationState, error) {
	doc, err := f.client.Collection("automation_state").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.AutomationState{LastState: types.StateIdle}, nil
		}
		return types.AutomationState{}, fmt.Errorf("failed to fetch automation state: %w", err)
	}
	var s types.AutomationState
	if err := doc.DataTo(&s); err != nil {
		return types.AutomationState{}, fmt.Errorf("failed to decode automation state: %w", err)
	}
	return s, nil
}

func (f *FirestoreProvider) SetAutomationState(ctx context.Context, id string, state types.AutomationState) error {
	_, err := f.client.Collection("automation_state").Doc(id).Set(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to save automation state: %w", err)
	}
	return nil
}

func (f *FirestoreProvider) GetMinerCursor(ctx context.Context, userID string) (time.Time, error) {
	coll, err := f.userColl(userID, "config")
	if err != nil {
		return time.Time{}, err
	}
	doc, err := coll.Doc("miner_cursor").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to fetch miner cursor: %w", err)
	}
	val, err := doc.DataAt("ts")
	if err != nil {
		return time.Time{}, fmt.Errorf("miner cursor missing 'ts' field: %w", err)
	}
	ts, ok := val.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("miner cursor 'ts' field is not a timestamp")
	}
	return ts, nil
}

func (f *FirestoreProvider) SetMinerCursor(ctx context.Context, userID string, ts time.Time) error {
	coll, err := f.userColl(userID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("miner_cursor").Set(ctx, map[string]any{"ts": ts})
	if err != nil {
		return fmt.Errorf("failed to save miner cursor: %w", err)
	}
	return nil
}
