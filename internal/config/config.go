package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Hardware and tuning knobs carry defaults
// so a blank .env still boots a working machine; only the database and
// the admin credentials are mandatory.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret    string // secret used to sign admin JWTs
	AccessTTLMin int    // admin token time-to-live in minutes
	AdminUser    string // admin login username
	AdminPass    string // admin login password (hashed at startup)

	LockTTL       time.Duration // coin-slot reservation lifetime
	SweepInterval time.Duration // expired-lock sweep cadence

	DebounceWindow      time.Duration // pulse coalescing window
	DebounceMinInterval time.Duration // pulse acceptance floor

	FallbackMinutesPerPeso int // linear rate for coins with no rate row

	LicenseCacheTTL  time.Duration // positive license verdict cache TTL
	LicenseState     string        // static license verdict until an activation backend is wired
	LicenseTrialDays int           // trial days reported when state is "trial"

	BoardType   string        // "none", "gpio" or "serial"
	GPIOPin     int           // BCM pin of the on-board acceptor
	SerialPort  string        // serial device of the acceptor bridge
	SerialBaud  int           // serial baud rate
	MQTTBroker  string        // MQTT broker URL; empty disables NodeMCU slots
	AMQPURL     string        // RabbitMQ URL; empty disables sales events
	SimInterval time.Duration // simulated pulse cadence
}

// Load reads configuration values from environment variables and returns
// a Config.  Required variables are enforced by must() and missing
// values cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:  envStr("APP_ENV", "prod"),
		Port: envStr("APP_PORT", "8080"),

		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 720),
		AdminUser:    envStr("ADMIN_USERNAME", "admin"),
		AdminPass:    must("ADMIN_PASSWORD"),

		LockTTL:       envDur("COINSLOT_LOCK_TTL", 60*time.Second),
		SweepInterval: envDur("COINSLOT_SWEEP_INTERVAL", 15*time.Second),

		DebounceWindow:      envDur("PULSE_DEBOUNCE_WINDOW", 500*time.Millisecond),
		DebounceMinInterval: envDur("PULSE_MIN_INTERVAL", 100*time.Millisecond),

		FallbackMinutesPerPeso: envInt("FALLBACK_MINUTES_PER_PESO", 10),

		LicenseCacheTTL:  envDur("LICENSE_CACHE_TTL", 30*time.Second),
		LicenseState:     envStr("LICENSE_STATE", "valid"),
		LicenseTrialDays: envInt("LICENSE_TRIAL_DAYS", 0),

		BoardType:   envStr("COINSLOT_BOARD", "none"),
		GPIOPin:     envInt("COINSLOT_GPIO_PIN", 2),
		SerialPort:  envStr("COINSLOT_SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaud:  envInt("COINSLOT_SERIAL_BAUD", 9600),
		MQTTBroker:  os.Getenv("MQTT_BROKER_URL"),
		AMQPURL:     os.Getenv("AMQP_URL"),
		SimInterval: envDur("SIM_PULSE_INTERVAL", 5*time.Second),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
