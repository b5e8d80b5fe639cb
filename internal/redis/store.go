package redisclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

// Key layout under the configured prefix:
//
//	appt:<id>                          hash with the appointment fields
//	slot:<len>:<doctor>:<slot>         id holding the doctor's slot
//	pslot:<len>:<email>:<slot>         zset of the patient's ids at a slot
//	patient:<email>, doctor:<doctor>   zsets of ids
//
// Every zset is scored by creation time in unix milliseconds. Doctor and
// email are length prefixed so names containing ':' cannot collide.
//
// Scripts build some keys from stored fields, so the store only supports a
// single Redis node.
const luaKeys = `
local function slotKey(prefix, doctor, slot)
  return prefix .. "slot:" .. #doctor .. ":" .. doctor .. ":" .. slot
end
local function pslotKey(prefix, email, slot)
  return prefix .. "pslot:" .. #email .. ":" .. email .. ":" .. slot
end
local function toMap(fields)
  local m = {}
  for i = 1, #fields, 2 do m[fields[i]] = fields[i + 1] end
  return m
end
`

// KEYS: slot, appt, pslot, patient, doctor
// ARGV: id, first, last, email, slot, doctor, now
var reserveScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder then
  if holder == ARGV[1] then
    return {"ok", unpack(redis.call("HGETALL", KEYS[2]))}
  end
  return {"taken"}
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2],
  "id", ARGV[1], "first_name", ARGV[2], "last_name", ARGV[3], "email", ARGV[4],
  "time_slot", ARGV[5], "doctor_name", ARGV[6], "created_at", ARGV[7], "updated_at", ARGV[7])
redis.call("ZADD", KEYS[3], ARGV[7], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[7], ARGV[1])
redis.call("ZADD", KEYS[5], ARGV[7], ARGV[1])
return {"ok", unpack(redis.call("HGETALL", KEYS[2]))}
`)

// KEYS: pslot
// ARGV: prefix
var releaseScript = redis.NewScript(luaKeys + `
local ids = redis.call("ZRANGE", KEYS[1], 0, 0)
if #ids == 0 then
  return {"not_found"}
end
local id = ids[1]
local apptKey = ARGV[1] .. "appt:" .. id
local fields = redis.call("HGETALL", apptKey)
local a = toMap(fields)
redis.call("DEL", slotKey(ARGV[1], a.doctor_name, a.time_slot))
redis.call("ZREM", KEYS[1], id)
redis.call("ZREM", ARGV[1] .. "patient:" .. a.email, id)
redis.call("ZREM", ARGV[1] .. "doctor:" .. a.doctor_name, id)
redis.call("DEL", apptKey)
return {"ok", unpack(fields)}
`)

// KEYS: pslot of the source slot
// ARGV: prefix, target slot, now
var transferScript = redis.NewScript(luaKeys + `
local ids = redis.call("ZRANGE", KEYS[1], 0, 0)
if #ids == 0 then
  return {"not_found"}
end
local id = ids[1]
local apptKey = ARGV[1] .. "appt:" .. id
local a = toMap(redis.call("HGETALL", apptKey))
local target = slotKey(ARGV[1], a.doctor_name, ARGV[2])
local holder = redis.call("GET", target)
if holder and holder ~= id then
  return {"taken"}
end
if a.time_slot ~= ARGV[2] then
  redis.call("DEL", slotKey(ARGV[1], a.doctor_name, a.time_slot))
  redis.call("SET", target, id)
  redis.call("ZREM", KEYS[1], id)
  redis.call("ZADD", pslotKey(ARGV[1], a.email, ARGV[2]), a.created_at, id)
end
redis.call("HSET", apptKey, "time_slot", ARGV[2], "updated_at", ARGV[3])
return {"ok", unpack(redis.call("HGETALL", apptKey))}
`)

// KEYS: slot
// ARGV: prefix
var findSlotScript = redis.NewScript(`
local id = redis.call("GET", KEYS[1])
if not id then
  return {"not_found"}
end
return {"ok", unpack(redis.call("HGETALL", ARGV[1] .. "appt:" .. id))}
`)

// Store keeps appointments in Redis. Each mutation is one Lua script, which
// Redis runs without interleaving other commands.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *Store) apptKey(id string) string { return s.prefix + "appt:" + id }

func (s *Store) slotKey(doctor, slot string) string {
	return fmt.Sprintf("%sslot:%d:%s:%s", s.prefix, len(doctor), doctor, slot)
}

func (s *Store) pslotKey(email, slot string) string {
	return fmt.Sprintf("%spslot:%d:%s:%s", s.prefix, len(email), email, slot)
}

func (s *Store) patientKey(email string) string { return s.prefix + "patient:" + email }
func (s *Store) doctorKey(doctor string) string { return s.prefix + "doctor:" + doctor }

func (s *Store) FindByDoctorAndSlot(ctx context.Context, doctorName, timeSlot string) (*appointment.Appointment, error) {
	res, err := findSlotScript.Run(ctx, s.client, []string{s.slotKey(doctorName, timeSlot)}, s.prefix).Slice()
	if err != nil {
		return nil, classifyRedisError(err)
	}
	return decodeResult(res)
}

func (s *Store) Reserve(ctx context.Context, appt appointment.Appointment) (*appointment.Appointment, error) {
	id := appt.ID.String()
	keys := []string{
		s.slotKey(appt.DoctorName, appt.TimeSlot),
		s.apptKey(id),
		s.pslotKey(appt.Patient.Email, appt.TimeSlot),
		s.patientKey(appt.Patient.Email),
		s.doctorKey(appt.DoctorName),
	}
	res, err := reserveScript.Run(ctx, s.client, keys,
		id,
		appt.Patient.FirstName,
		appt.Patient.LastName,
		appt.Patient.Email,
		appt.TimeSlot,
		appt.DoctorName,
		s.now().UnixMilli(),
	).Slice()
	if err != nil {
		return nil, classifyRedisError(err)
	}
	return decodeResult(res)
}

func (s *Store) Release(ctx context.Context, email, timeSlot string) (*appointment.Appointment, error) {
	res, err := releaseScript.Run(ctx, s.client, []string{s.pslotKey(email, timeSlot)}, s.prefix).Slice()
	if err != nil {
		return nil, classifyRedisError(err)
	}
	return decodeResult(res)
}

func (s *Store) TransferSlot(ctx context.Context, email, fromTimeSlot, toTimeSlot string) (*appointment.Appointment, error) {
	res, err := transferScript.Run(ctx, s.client, []string{s.pslotKey(email, fromTimeSlot)},
		s.prefix, toTimeSlot, s.now().UnixMilli(),
	).Slice()
	if err != nil {
		return nil, classifyRedisError(err)
	}
	return decodeResult(res)
}

func (s *Store) FindByPatient(ctx context.Context, email string) ([]appointment.Appointment, error) {
	return s.listIndex(ctx, s.patientKey(email))
}

func (s *Store) FindByDoctor(ctx context.Context, doctorName string) ([]appointment.Appointment, error) {
	return s.listIndex(ctx, s.doctorKey(doctorName))
}

// listIndex loads every appointment in an index zset. Records removed
// between the ZRANGE and the HGETALL are skipped.
func (s *Store) listIndex(ctx context.Context, key string) ([]appointment.Appointment, error) {
	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, classifyRedisError(err)
	}

	result := make([]appointment.Appointment, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.apptKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, classifyRedisError(err)
	}

	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		a, err := toAppointment(fields)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, nil
}

// decodeResult reads a script reply: a status word followed, for "ok", by
// the flat HGETALL pairs of the appointment.
func decodeResult(res []interface{}) (*appointment.Appointment, error) {
	if len(res) == 0 {
		return nil, errors.New("redis: empty script reply")
	}

	switch status, _ := res[0].(string); status {
	case "ok":
	case "taken":
		return nil, appointment.ErrSlotTaken
	case "not_found":
		return nil, appointment.ErrAppointmentNotFound
	default:
		return nil, fmt.Errorf("redis: unexpected script status %v", res[0])
	}

	fields := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return toAppointment(fields)
}

func toAppointment(f map[string]string) (*appointment.Appointment, error) {
	id, err := uuid.Parse(f["id"])
	if err != nil {
		return nil, fmt.Errorf("redis: bad appointment id %q: %w", f["id"], err)
	}
	created, err := parseMillis(f["created_at"])
	if err != nil {
		return nil, err
	}
	updated, err := parseMillis(f["updated_at"])
	if err != nil {
		return nil, err
	}

	return &appointment.Appointment{
		ID: id,
		Patient: appointment.Patient{
			FirstName: f["first_name"],
			LastName:  f["last_name"],
			Email:     f["email"],
		},
		TimeSlot:   f["time_slot"],
		DoctorName: f["doctor_name"],
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: bad timestamp %q: %w", v, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

var transientPrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"}

func classifyRedisError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return appointment.Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return appointment.Transient(err)
	}

	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		for _, p := range transientPrefixes {
			if strings.HasPrefix(msg, p) {
				return appointment.Transient(err)
			}
		}
	}

	return err
}
