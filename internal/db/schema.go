package db

// Schema holds the run history tables. Statements are idempotent.
const Schema = `
-- One row per RunAll invocation.
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    browser TEXT NOT NULL,
    started_at INTEGER NOT NULL,   -- unix millis
    duration_ms INTEGER NOT NULL,
    passed INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    report_url TEXT
);

-- One row per scenario outcome.
CREATE TABLE IF NOT EXISTS outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    scenario TEXT NOT NULL,
    site TEXT NOT NULL,
    browser TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pass', 'fail')),
    code TEXT,
    reason TEXT,
    expected TEXT,
    actual TEXT,
    failed_step INTEGER NOT NULL DEFAULT 0,
    steps_completed INTEGER NOT NULL,
    steps_total INTEGER NOT NULL,
    final_url TEXT,
    flaky INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,   -- unix millis
    duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_scenario ON outcomes(scenario, browser, id);
CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
`
