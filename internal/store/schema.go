package store

const schema = `
CREATE TABLE IF NOT EXISTS weather_history (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    city             TEXT NOT NULL,
    region           TEXT NOT NULL DEFAULT '',
    country          TEXT NOT NULL DEFAULT '',
    temperature_c    REAL NOT NULL,
    humidity         REAL NOT NULL,
    wind_kph         REAL NOT NULL,
    condition        TEXT NOT NULL DEFAULT '',
    api_last_updated TEXT NOT NULL,
    fetched_at_utc   TEXT NOT NULL,
    UNIQUE(city, api_last_updated)
);

CREATE INDEX IF NOT EXISTS idx_history_fetched_at ON weather_history(fetched_at_utc);

CREATE TABLE IF NOT EXISTS weather_current (
    city             TEXT PRIMARY KEY,
    region           TEXT NOT NULL DEFAULT '',
    country          TEXT NOT NULL DEFAULT '',
    temperature_c    REAL NOT NULL,
    humidity         REAL NOT NULL,
    wind_kph         REAL NOT NULL,
    condition        TEXT NOT NULL DEFAULT '',
    api_last_updated TEXT NOT NULL,
    fetched_at_utc   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS weather_hourly_summary (
    city            TEXT NOT NULL,
    date            TEXT NOT NULL,
    hour            INTEGER NOT NULL,
    avg_temperature REAL NOT NULL,
    min_temperature REAL NOT NULL,
    max_temperature REAL NOT NULL,
    avg_humidity    REAL NOT NULL,
    record_count    INTEGER NOT NULL,
    PRIMARY KEY (city, date, hour)
);

CREATE TABLE IF NOT EXISTS weather_daily_summary (
    city            TEXT NOT NULL,
    date            TEXT NOT NULL,
    avg_temperature REAL NOT NULL,
    min_temperature REAL NOT NULL,
    max_temperature REAL NOT NULL,
    avg_humidity    REAL NOT NULL,
    record_count    INTEGER NOT NULL,
    PRIMARY KEY (city, date)
);

CREATE TABLE IF NOT EXISTS weather_anomalies (
    city             TEXT NOT NULL,
    date             TEXT NOT NULL,
    avg_temperature  REAL NOT NULL,
    temp_change      REAL NULL,
    z_score          REAL NULL,
    is_anomaly       INTEGER NOT NULL DEFAULT 0,
    anomaly_severity REAL NULL,
    PRIMARY KEY (city, date)
);

CREATE INDEX IF NOT EXISTS idx_anomalies_flagged ON weather_anomalies(is_anomaly);
`
